// Package registry is the bookkeeping layer for chat room metadata. It knows
// nothing about message traffic: the broker owns participants and logs, the
// registry owns which rooms exist and whether they are active.
package registry

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketpulse/chathub/internal/models"
)

// Registry tracks room metadata in process memory. Construct one per process
// and inject it into consumers; there is no package-level instance.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*models.Room
	order   []string
	baseURL string
	logger  *zap.Logger

	subMu  sync.Mutex
	nextID int
	subs   map[int]func([]models.Room)
}

func New(baseURL string, logger *zap.Logger) *Registry {
	return &Registry{
		rooms:   make(map[string]*models.Room),
		baseURL: baseURL,
		logger:  logger,
		subs:    make(map[int]func([]models.Room)),
	}
}

// Create makes a fresh active room. Names are not unique — only ids are —
// so two callers creating "general" concurrently get two distinct rooms.
func (r *Registry) Create(creatorID, name, description string) *models.Room {
	room := models.Room{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now(),
		CreatedByID: creatorID,
		IsActive:    true,
	}

	stored := room
	r.mu.Lock()
	r.rooms[stored.ID] = &stored
	r.order = append(r.order, stored.ID)
	r.mu.Unlock()

	r.logger.Info("room created",
		zap.String("room_id", room.ID),
		zap.String("name", room.Name),
		zap.String("creator", creatorID),
	)
	r.notify()
	return &room
}

// AddExisting materializes a room this process has never seen, typically one
// referenced by a direct link. Idempotent: if the id is already known, the
// stored room wins unchanged and a snapshot of it comes back.
func (r *Registry) AddExisting(room models.Room) *models.Room {
	r.mu.Lock()
	if existing, ok := r.rooms[room.ID]; ok {
		out := *existing
		r.mu.Unlock()
		return &out
	}
	stored := room
	r.rooms[stored.ID] = &stored
	r.order = append(r.order, stored.ID)
	r.mu.Unlock()

	r.notify()
	return &room
}

// GetByID returns nil when the room is unknown. Absence is a normal outcome:
// it signals "materialize a placeholder", not a failure. The returned room is
// a snapshot taken under the lock; the stored struct never leaves the
// registry, so callers can read it while Deactivate runs.
func (r *Registry) GetByID(id string) *models.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil
	}
	out := *room
	return &out
}

// All returns the active rooms in insertion order.
func (r *Registry) All() []models.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

func (r *Registry) activeLocked() []models.Room {
	rooms := make([]models.Room, 0, len(r.order))
	for _, id := range r.order {
		room := r.rooms[id]
		if room != nil && room.IsActive {
			rooms = append(rooms, *room)
		}
	}
	return rooms
}

// Deactivate flips IsActive off and keeps the row — history stays readable
// through GetByID. Returns false if the room is unknown.
func (r *Registry) Deactivate(id string) bool {
	r.mu.Lock()
	room, ok := r.rooms[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	room.IsActive = false
	r.mu.Unlock()

	r.logger.Info("room deactivated", zap.String("room_id", id))
	r.notify()
	return true
}

// ShareableURL derives the direct link for a room from the configured base
// URL. Pure derivation, no I/O.
func (r *Registry) ShareableURL(id string) string {
	return fmt.Sprintf("%s/chat/room/%s", r.baseURL, id)
}

// MailtoURL composes a mail-client intent for sharing a room. Subject and
// body fall back to a default built from the room name when empty.
func (r *Registry) MailtoURL(id, name, subject, body string) string {
	if subject == "" {
		subject = fmt.Sprintf("Join my chat room: %s", name)
	}
	if body == "" {
		body = fmt.Sprintf("Come chat with me in %q:\n\n%s", name, r.ShareableURL(id))
	}
	return fmt.Sprintf("mailto:?subject=%s&body=%s",
		url.QueryEscape(subject), url.QueryEscape(body))
}

// Reset drops every known room. Debug workflows only.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.rooms = make(map[string]*models.Room)
	r.order = nil
	r.mu.Unlock()

	r.logger.Warn("room registry reset")
	r.notify()
}

// SubscribeRooms registers fn to observe the active room list. fn is invoked
// immediately with the current rooms, then after every mutation. The returned
// function deregisters it.
func (r *Registry) SubscribeRooms(fn func([]models.Room)) func() {
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subMu.Unlock()

	fn(r.All())

	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Registry) notify() {
	rooms := r.All()

	r.subMu.Lock()
	subs := make([]func([]models.Room), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.subMu.Unlock()

	for _, fn := range subs {
		fn(rooms)
	}
}
