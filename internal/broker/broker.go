// Package broker simulates a publish/subscribe message bus scoped to chat
// rooms. Each broker owns its node's in-memory room table exclusively;
// sibling nodes converge on a best-effort basis by exchanging intents over a
// transport and deduplicating what they receive. This is a development-time
// stand-in for a server-hosted broker, and the consistency model is exactly
// as weak as that implies: FIFO per node, eventual and unordered across
// nodes, duplicate suppression instead of a merge protocol.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketpulse/chathub/internal/models"
	"github.com/marketpulse/chathub/internal/store"
	"github.com/marketpulse/chathub/internal/transport"
)

// Options tune the simulation. The zero value means: no artificial latency,
// 3s dedup window, default snapshot key.
type Options struct {
	// Latency delays subscriber callbacks to emulate a network round-trip.
	// 0 fires callbacks synchronously, which is what tests want.
	Latency time.Duration

	// DedupWindow bounds how far apart two messages with the same content
	// and author can be and still be treated as one echoed message.
	DedupWindow time.Duration

	// SnapshotKey names the store entry the room table persists under.
	SnapshotKey string
}

const (
	defaultDedupWindow = 3 * time.Second
	defaultSnapshotKey = "chathub:snapshot"
)

type roomState struct {
	participants map[string]models.Participant
	messages     []models.Message
}

// Broker owns one node's room table. All methods are safe for concurrent
// use; the mutex stands in for the single-threaded event loop the original
// environment provided for free.
type Broker struct {
	instanceID  string
	latency     time.Duration
	dedupWindow time.Duration
	snapshotKey string

	store     store.Store
	transport transport.Transport
	logger    *zap.Logger

	mu    sync.Mutex
	rooms map[string]*roomState

	subMu      sync.Mutex
	nextSub    int
	joinedSubs map[int]func(roomID string, p models.Participant)
	leftSubs   map[int]func(roomID, participantID string)
	msgSubs    map[int]func(msg models.Message)

	// dispatch serializes delayed callbacks so events observed on this
	// node fire in the order their operations were issued, latency or not.
	// dispatchMu guards closed: once Close has run, nothing may send on
	// dispatch again.
	dispatchMu sync.Mutex
	dispatch   chan dispatchItem
	closed     bool

	stopTransport func()
}

type dispatchItem struct {
	due time.Time
	fn  func()
}

// New builds a broker, hydrates it from the store, and attaches it to the
// transport. Collaborator failures are logged and absorbed: a broken store
// means starting empty, a broken transport means local-only delivery.
// Neither fails construction.
func New(st store.Store, tr transport.Transport, logger *zap.Logger, opts Options) *Broker {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaultDedupWindow
	}
	if opts.SnapshotKey == "" {
		opts.SnapshotKey = defaultSnapshotKey
	}

	b := &Broker{
		instanceID:  uuid.NewString(),
		latency:     opts.Latency,
		dedupWindow: opts.DedupWindow,
		snapshotKey: opts.SnapshotKey,
		store:       st,
		transport:   tr,
		logger:      logger,
		rooms:       make(map[string]*roomState),
		joinedSubs:  make(map[int]func(string, models.Participant)),
		leftSubs:    make(map[int]func(string, string)),
		msgSubs:     make(map[int]func(models.Message)),
	}

	b.hydrate(context.Background())

	if b.latency > 0 {
		b.dispatch = make(chan dispatchItem, 256)
		go func() {
			for item := range b.dispatch {
				time.Sleep(time.Until(item.due))
				item.fn()
			}
		}()
	}

	unsub, err := tr.Subscribe(b.handleRemote)
	if err != nil {
		logger.Warn("broadcast transport unavailable, running local-only",
			zap.Error(err))
		unsub = func() {}
	}
	b.stopTransport = unsub

	logger.Info("broker ready", zap.String("instance_id", b.instanceID))
	return b
}

// InstanceID identifies this broker in broadcast envelopes.
func (b *Broker) InstanceID() string { return b.instanceID }

// Join creates the room entry if absent and upserts the participant —
// re-joining replaces the existing entry rather than duplicating it. Local
// "joined" subscribers are notified; siblings get a join envelope.
func (b *Broker) Join(ctx context.Context, roomID string, p models.Participant) {
	b.mu.Lock()
	room := b.roomLocked(roomID)
	room.participants[p.ID] = p
	b.mu.Unlock()

	b.notifyJoined(roomID, p)
	b.publish(ctx, models.Envelope{
		Kind:        models.EnvelopeJoin,
		Origin:      b.instanceID,
		RoomID:      roomID,
		Participant: &p,
	})
}

// Leave removes the participant from the room's set if present. Local "left"
// subscribers are notified only when someone was actually removed.
func (b *Broker) Leave(ctx context.Context, roomID, participantID string) {
	b.mu.Lock()
	room, ok := b.rooms[roomID]
	var present bool
	if ok {
		_, present = room.participants[participantID]
		delete(room.participants, participantID)
	}
	b.mu.Unlock()

	if present {
		b.notifyLeft(roomID, participantID)
	}
	b.publish(ctx, models.Envelope{
		Kind:          models.EnvelopeLeave,
		Origin:        b.instanceID,
		RoomID:        roomID,
		ParticipantID: participantID,
	})
}

// Send assigns the draft a fresh id and the current time, appends it to the
// room's log, notifies local "message" subscribers, persists the room table,
// and broadcasts the completed message to siblings. The returned message is
// the canonical form that entered the log.
//
// Two local sends with identical content are two messages: the dedup window
// applies only to envelopes arriving from other nodes, where echoes live.
func (b *Broker) Send(ctx context.Context, roomID string, draft models.Message) models.Message {
	msg := draft
	msg.ID = uuid.NewString()
	msg.RoomID = roomID
	msg.Timestamp = time.Now()

	b.mu.Lock()
	room := b.roomLocked(roomID)
	room.messages = append(room.messages, msg)
	b.mu.Unlock()

	b.notifyMessage(msg)
	b.Persist(ctx)
	b.publish(ctx, models.Envelope{
		Kind:         models.EnvelopeMessage,
		Origin:       b.instanceID,
		RoomID:       roomID,
		Message:      &msg,
		HighPriority: true,
	})
	return msg
}

// Participants returns a copy of the room's current participant set.
func (b *Broker) Participants(roomID string) []models.Participant {
	b.mu.Lock()
	defer b.mu.Unlock()

	room, ok := b.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]models.Participant, 0, len(room.participants))
	for _, p := range room.participants {
		out = append(out, p)
	}
	return out
}

// Messages returns a copy of the room's log in append order.
func (b *Broker) Messages(roomID string) []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	room, ok := b.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]models.Message, len(room.messages))
	copy(out, room.messages)
	return out
}

// ResetAll clears the in-memory room table and removes the durable snapshot.
// Debug workflows only; callers confirm with the end user first.
func (b *Broker) ResetAll(ctx context.Context) {
	b.mu.Lock()
	b.rooms = make(map[string]*roomState)
	b.mu.Unlock()

	if err := b.store.Delete(ctx, b.snapshotKey); err != nil {
		b.logger.Warn("failed to delete snapshot", zap.Error(err))
	}
	b.logger.Warn("broker state reset", zap.String("instance_id", b.instanceID))
}

// Close detaches the broker from the transport and stops the callback
// dispatcher. In-flight callbacks may still fire; operations already issued
// are not cancelled. Safe to call more than once, and operations arriving
// after Close — a websocket connection can outlive server shutdown — simply
// stop notifying subscribers instead of panicking.
func (b *Broker) Close() {
	b.dispatchMu.Lock()
	if b.closed {
		b.dispatchMu.Unlock()
		return
	}
	b.closed = true
	if b.dispatch != nil {
		close(b.dispatch)
	}
	b.dispatchMu.Unlock()

	if b.stopTransport != nil {
		b.stopTransport()
	}
}

// handleRemote applies an envelope from a sibling node to the local room
// table. Self-originated echoes are dropped. Remote joins and leaves mutate
// silently — only same-node joins drive the "joined" transition — while
// remote messages fire local "message" subscribers once deduplicated.
func (b *Broker) handleRemote(env models.Envelope) {
	if env.Origin == b.instanceID {
		return
	}

	switch env.Kind {
	case models.EnvelopeJoin:
		if env.Participant == nil {
			return
		}
		b.mu.Lock()
		room := b.roomLocked(env.RoomID)
		room.participants[env.Participant.ID] = *env.Participant
		b.mu.Unlock()

	case models.EnvelopeLeave:
		b.mu.Lock()
		if room, ok := b.rooms[env.RoomID]; ok {
			delete(room.participants, env.ParticipantID)
		}
		b.mu.Unlock()

	case models.EnvelopeMessage:
		if env.Message == nil {
			return
		}
		msg := *env.Message
		b.mu.Lock()
		room := b.roomLocked(env.RoomID)
		if b.isDuplicateLocked(room, msg) {
			b.mu.Unlock()
			b.logger.Debug("suppressed duplicate message",
				zap.String("room_id", env.RoomID),
				zap.String("message_id", msg.ID),
			)
			return
		}
		room.messages = append(room.messages, msg)
		b.mu.Unlock()

		b.notifyMessage(msg)

	default:
		b.logger.Warn("unknown envelope kind", zap.String("kind", string(env.Kind)))
	}
}

// isDuplicateLocked reports whether msg is already in the room's log, either
// by id or by identical content + author within the dedup window. The window
// is a stopgap against broadcast echoes, not a correctness guarantee: a
// legitimate rapid repeat from another node inside the window is conflated
// with an echo and dropped.
func (b *Broker) isDuplicateLocked(room *roomState, msg models.Message) bool {
	for i := range room.messages {
		existing := &room.messages[i]
		if existing.ID == msg.ID {
			return true
		}
		if existing.Content == msg.Content && existing.AuthorID == msg.AuthorID {
			delta := msg.Timestamp.Sub(existing.Timestamp)
			if delta < 0 {
				delta = -delta
			}
			if delta <= b.dedupWindow {
				return true
			}
		}
	}
	return false
}

// roomLocked returns the room entry, creating it if absent. Caller holds b.mu.
func (b *Broker) roomLocked(roomID string) *roomState {
	room, ok := b.rooms[roomID]
	if !ok {
		room = &roomState{participants: make(map[string]models.Participant)}
		b.rooms[roomID] = room
	}
	return room
}

func (b *Broker) publish(ctx context.Context, env models.Envelope) {
	if err := b.transport.Publish(ctx, env); err != nil {
		// Fire and forget: a dead transport degrades us to local-only
		// delivery, it never fails the operation.
		b.logger.Warn("broadcast publish failed",
			zap.String("kind", string(env.Kind)),
			zap.Error(err),
		)
	}
}

// notify helpers fire subscriber callbacks after the configured latency.
// With zero latency they fire inline, keeping tests deterministic.

func (b *Broker) notifyJoined(roomID string, p models.Participant) {
	b.subMu.Lock()
	subs := make([]func(string, models.Participant), 0, len(b.joinedSubs))
	for _, fn := range b.joinedSubs {
		subs = append(subs, fn)
	}
	b.subMu.Unlock()

	b.after(func() {
		for _, fn := range subs {
			fn(roomID, p)
		}
	})
}

func (b *Broker) notifyLeft(roomID, participantID string) {
	b.subMu.Lock()
	subs := make([]func(string, string), 0, len(b.leftSubs))
	for _, fn := range b.leftSubs {
		subs = append(subs, fn)
	}
	b.subMu.Unlock()

	b.after(func() {
		for _, fn := range subs {
			fn(roomID, participantID)
		}
	})
}

func (b *Broker) notifyMessage(msg models.Message) {
	b.subMu.Lock()
	subs := make([]func(models.Message), 0, len(b.msgSubs))
	for _, fn := range b.msgSubs {
		subs = append(subs, fn)
	}
	b.subMu.Unlock()

	b.after(func() {
		for _, fn := range subs {
			fn(msg)
		}
	})
}

// after schedules fn behind the simulated latency. Zero latency fires
// inline, which keeps tests deterministic; otherwise the shared dispatcher
// preserves issue order while each callback still waits out its own delay.
// After Close the callback is dropped, never sent to the closed channel.
func (b *Broker) after(fn func()) {
	if b.latency <= 0 {
		fn()
		return
	}
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()
	if b.closed {
		return
	}
	b.dispatch <- dispatchItem{due: time.Now().Add(b.latency), fn: fn}
}

// OnJoined subscribes to same-node joins. Returns a deregistration func.
func (b *Broker) OnJoined(fn func(roomID string, p models.Participant)) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.joinedSubs[id] = fn
	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		delete(b.joinedSubs, id)
	}
}

// OnLeft subscribes to same-node leaves.
func (b *Broker) OnLeft(fn func(roomID, participantID string)) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.leftSubs[id] = fn
	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		delete(b.leftSubs, id)
	}
}

// OnMessage subscribes to messages entering the local log, whether sent
// here or admitted from a sibling node.
func (b *Broker) OnMessage(fn func(msg models.Message)) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.msgSubs[id] = fn
	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		delete(b.msgSubs, id)
	}
}
