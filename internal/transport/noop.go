package transport

import (
	"context"

	"github.com/marketpulse/chathub/internal/models"
)

// Noop is the degraded-mode Transport: publishes succeed and go nowhere,
// subscriptions never fire. Used when no broadcast backend is available so
// the broker keeps working local-only instead of failing.
type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) Publish(context.Context, models.Envelope) error { return nil }

func (Noop) Subscribe(Handler) (func(), error) { return func() {}, nil }

func (Noop) Close() error { return nil }
