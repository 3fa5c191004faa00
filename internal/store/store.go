// Package store provides the durable key-value snapshot store the broker
// persists room state into. It is a shared, last-writer-wins mirror: any node
// may overwrite the snapshot with its own view, and readers reconcile only at
// hydrate time. Nothing here offers transactions, and the broker is written
// to tolerate that.
package store

import "context"

// Store is a synchronous get/set/delete keyed by string names.
//
// Get returns (nil, nil) when the key is absent — absence is a normal
// outcome, not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
