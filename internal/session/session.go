// Package session adapts the broker's callback interface into the logical
// "connection" a single chat client holds: one active room at a time, join/
// leave/send operations, and a handler set for incoming events. It keeps no
// durable state of its own — message history belongs to the consumer.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/marketpulse/chathub/internal/broker"
	"github.com/marketpulse/chathub/internal/models"
)

// Handlers are the consumer's reactions to broker events. Any of them may be
// nil. OnMessage fires for messages in the active room only; a session that
// has moved on from a room stops observing it.
type Handlers struct {
	OnJoined  func(roomID string, p models.Participant)
	OnLeft    func(roomID, participantID string)
	OnMessage func(msg models.Message)
}

// Session is one client's connection to the broker. Safe for concurrent use.
type Session struct {
	broker  *broker.Broker
	logger  *zap.Logger
	cancels []func()

	mu     sync.Mutex
	roomID string
	user   models.Participant
	closed bool
}

// New opens a session: registers the handler set with the broker and reports
// a connected session immediately — there is no handshake to wait for.
func New(b *broker.Broker, logger *zap.Logger, h Handlers) *Session {
	s := &Session{broker: b, logger: logger}

	if h.OnJoined != nil {
		s.cancels = append(s.cancels, b.OnJoined(h.OnJoined))
	}
	if h.OnLeft != nil {
		s.cancels = append(s.cancels, b.OnLeft(h.OnLeft))
	}
	if h.OnMessage != nil {
		s.cancels = append(s.cancels, b.OnMessage(func(msg models.Message) {
			if s.ActiveRoom() == msg.RoomID {
				h.OnMessage(msg)
			}
		}))
	}
	return s
}

// Connected reports whether the session can issue intents.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// ActiveRoom returns the id of the room this session is in, or "".
func (s *Session) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// JoinRoom enters a room as user. If the session is already in a different
// room it leaves that one first; the active user identity is recorded for
// the eventual teardown leave.
func (s *Session) JoinRoom(ctx context.Context, roomID string, user models.Participant) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.roomID
	prevUser := s.user
	s.roomID = roomID
	s.user = user
	s.mu.Unlock()

	if prev != "" && prev != roomID {
		s.broker.Leave(ctx, prev, prevUser.ID)
	}
	s.broker.Join(ctx, roomID, user)
}

// LeaveRoom exits the active room, if any, and clears the active-room marker.
func (s *Session) LeaveRoom(ctx context.Context) {
	s.mu.Lock()
	roomID := s.roomID
	user := s.user
	s.roomID = ""
	s.mu.Unlock()

	if roomID != "" {
		s.broker.Leave(ctx, roomID, user.ID)
	}
}

// SendMessage sends content to the active room as user. Returns false with
// no side effect when there is no active room.
func (s *Session) SendMessage(ctx context.Context, content string, user models.Participant) bool {
	s.mu.Lock()
	roomID := s.roomID
	closed := s.closed
	s.mu.Unlock()

	if closed || roomID == "" {
		s.logger.Debug("send rejected, no active room")
		return false
	}

	s.broker.Send(ctx, roomID, models.Message{
		Content:    content,
		AuthorID:   user.ID,
		AuthorName: user.Name,
		Avatar:     user.Avatar,
	})
	return true
}

// Close tears the session down: leaves the active room if any and
// deregisters every handler. Operations already issued are not cancelled;
// they simply stop being observed.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	roomID := s.roomID
	user := s.user
	s.roomID = ""
	s.mu.Unlock()

	if roomID != "" {
		s.broker.Leave(ctx, roomID, user.ID)
	}
	for _, cancel := range s.cancels {
		cancel()
	}
}
