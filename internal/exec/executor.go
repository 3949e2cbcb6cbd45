package exec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mm-hedge-bot/internal/state"
	"mm-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

const cancelAttempts = 3

// Executor wraps a venue gateway with idempotent placement keyed by client
// order ID. Placement is a single wire attempt: a transport failure is
// surfaced to the caller, which retries on its next cycle rather than
// immediately, so a slow venue never sees the same order twice. Cancels are
// retried with backoff because repeating a cancel is harmless.
type Executor struct {
	gateway venue.OrderGateway
	store   state.Store
	log     *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

func New(gateway venue.OrderGateway, store state.Store, log *zap.Logger) *Executor {
	return &Executor{
		gateway: gateway,
		store:   store,
		log:     log,
		cache:   make(map[string]string),
	}
}

func (e *Executor) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.Order, error) {
	if req.ClientOrderID == "" {
		return e.gateway.PlaceOrder(ctx, req)
	}
	cacheKey := "cloid:" + req.ClientOrderID
	if orderID, ok := e.knownOrderID(ctx, cacheKey); ok {
		return e.gateway.OrderStatus(ctx, orderID)
	}
	order, err := e.gateway.PlaceOrder(ctx, req)
	if err != nil {
		return venue.Order{}, err
	}
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, order.OrderID); err != nil {
			e.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = order.OrderID
	e.mu.Unlock()
	return order, nil
}

func (e *Executor) OrderStatus(ctx context.Context, orderID string) (venue.Order, error) {
	return e.gateway.OrderStatus(ctx, orderID)
}

func (e *Executor) CancelOrder(ctx context.Context, orderID string) error {
	backoff := 50 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < cancelAttempts; attempt++ {
		if lastErr = e.gateway.CancelOrder(ctx, orderID); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return fmt.Errorf("cancel %s failed after %d attempts: %w", orderID, cancelAttempts, lastErr)
}

func (e *Executor) knownOrderID(ctx context.Context, cacheKey string) (string, bool) {
	e.mu.Lock()
	orderID, ok := e.cache[cacheKey]
	e.mu.Unlock()
	if ok {
		return orderID, true
	}
	if e.store == nil {
		return "", false
	}
	orderID, ok, err := e.store.Get(ctx, cacheKey)
	if err != nil || !ok {
		return "", false
	}
	e.mu.Lock()
	e.cache[cacheKey] = orderID
	e.mu.Unlock()
	return orderID, true
}
