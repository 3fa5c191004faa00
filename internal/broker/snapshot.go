package broker

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/marketpulse/chathub/internal/models"
)

// snapshot is the wire form of the room table in the durable store. Ordered
// message slices round-trip as-is; participant sets are flattened to slices
// and rebuilt into maps on hydrate.
type snapshot struct {
	Rooms map[string]roomSnapshot `json:"rooms"`
}

type roomSnapshot struct {
	Participants []models.Participant `json:"participants"`
	Messages     []models.Message     `json:"messages"`
}

// Persist serializes the entire room table to the store. Called after every
// send and by the owner at shutdown. The store is last-writer-wins shared
// state: whichever node persists last overwrites the snapshot wholesale, and
// that is accepted — see the package comment on consistency.
func (b *Broker) Persist(ctx context.Context) {
	b.mu.Lock()
	snap := snapshot{Rooms: make(map[string]roomSnapshot, len(b.rooms))}
	for id, room := range b.rooms {
		rs := roomSnapshot{
			Participants: make([]models.Participant, 0, len(room.participants)),
			Messages:     make([]models.Message, len(room.messages)),
		}
		for _, p := range room.participants {
			rs.Participants = append(rs.Participants, p)
		}
		copy(rs.Messages, room.messages)
		snap.Rooms[id] = rs
	}
	b.mu.Unlock()

	payload, err := json.Marshal(snap)
	if err != nil {
		b.logger.Error("failed to marshal snapshot", zap.Error(err))
		return
	}
	if err := b.store.Set(ctx, b.snapshotKey, payload); err != nil {
		b.logger.Warn("failed to persist snapshot", zap.Error(err))
	}
}

// hydrate reconstructs the room table from the store at construction time.
// A missing key means a fresh start; a corrupt payload is logged and treated
// as no prior state rather than crashing.
func (b *Broker) hydrate(ctx context.Context) {
	payload, err := b.store.Get(ctx, b.snapshotKey)
	if err != nil {
		b.logger.Warn("snapshot store unavailable, starting empty", zap.Error(err))
		return
	}
	if payload == nil {
		return
	}

	var snap snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		b.logger.Warn("corrupt snapshot, starting empty", zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, rs := range snap.Rooms {
		room := &roomState{
			participants: make(map[string]models.Participant, len(rs.Participants)),
			messages:     rs.Messages,
		}
		for _, p := range rs.Participants {
			room.participants[p.ID] = p
		}
		b.rooms[id] = room
	}
	b.logger.Info("hydrated room table", zap.Int("rooms", len(snap.Rooms)))
}
