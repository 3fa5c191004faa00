// Package transport abstracts the cross-node broadcast primitive brokers use
// to fan intents out to their siblings. The broker's room-table logic never
// touches a concrete backend: swapping the in-process Bus for Redis pub/sub
// (or anything else) changes nothing above this interface.
package transport

import (
	"context"

	"github.com/marketpulse/chathub/internal/models"
)

// Handler receives envelopes published by any node, including the local one.
// Receivers filter their own echoes by Envelope.Origin.
type Handler func(models.Envelope)

// Transport is a fire-and-forget publish/subscribe channel scoped to one
// topic. Delivery is best-effort: a Publish error means the envelope may not
// have reached anyone, and callers are expected to degrade to local-only
// operation rather than fail.
type Transport interface {
	Publish(ctx context.Context, env models.Envelope) error

	// Subscribe registers a handler for incoming envelopes and returns a
	// function that deregisters it.
	Subscribe(handler Handler) (unsubscribe func(), err error)

	Close() error
}
