// Package state persists the small amount of bookkeeping that must survive a
// restart: order-id idempotency keys, the daily trade counter, the last
// position snapshot, and operator audit events.
package state

import "context"

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
