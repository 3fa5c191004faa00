package transport

import (
	"context"
	"sync"

	"github.com/marketpulse/chathub/internal/models"
)

// Bus is the in-process Transport: every subscriber in this process sees
// every published envelope, the publisher's own broker included. It stands in
// for the real network during development and lets tests run several brokers
// against each other in one process.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	closed   bool
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

func (b *Bus) Publish(_ context.Context, env models.Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	// Deliver asynchronously so a publishing broker is never re-entered
	// while it still holds its own lock.
	for _, h := range handlers {
		go h(env)
	}
	return nil
}

func (b *Bus) Subscribe(handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}, nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[int]Handler)
	b.closed = true
	return nil
}
