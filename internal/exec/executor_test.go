package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"mm-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

type mockGateway struct {
	mu          sync.Mutex
	places      int
	statuses    int
	cancels     int
	cancelFails int
}

func (m *mockGateway) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.Order, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.places++
	return venue.Order{OrderID: fmt.Sprintf("oid-%d", m.places), ClientOrderID: req.ClientOrderID, Status: venue.StatusActive}, nil
}

func (m *mockGateway) OrderStatus(ctx context.Context, orderID string) (venue.Order, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses++
	return venue.Order{OrderID: orderID, Status: venue.StatusActive}, nil
}

func (m *mockGateway) CancelOrder(ctx context.Context, orderID string) error {
	_ = ctx
	_ = orderID
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels++
	if m.cancels <= m.cancelFails {
		return errors.New("venue busy")
	}
	return nil
}

func TestIdempotentPlacement(t *testing.T) {
	store := newMemoryStore()
	gw := &mockGateway{}
	executor := New(gw, store, zap.NewNop())
	ctx := context.Background()
	req := venue.OrderRequest{Symbol: "BTC-USD", Side: venue.SideBuy, Qty: 1, Price: 100, ClientOrderID: "abc"}

	first, err := executor.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := executor.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.OrderID != second.OrderID {
		t.Fatalf("expected same order id, got %s and %s", first.OrderID, second.OrderID)
	}
	if gw.places != 1 {
		t.Fatalf("expected one wire placement, got %d", gw.places)
	}
}

func TestIdempotencySurvivesRestart(t *testing.T) {
	store := newMemoryStore()
	gw := &mockGateway{}
	ctx := context.Background()
	req := venue.OrderRequest{Symbol: "BTC-USD", Side: venue.SideBuy, Qty: 1, Price: 100, ClientOrderID: "abc"}

	first, err := New(gw, store, zap.NewNop()).PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Fresh executor, same store: the persisted client order id dedupes.
	second, err := New(gw, store, zap.NewNop()).PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.OrderID != second.OrderID {
		t.Fatalf("expected same order id across restart, got %s and %s", first.OrderID, second.OrderID)
	}
	if gw.places != 1 {
		t.Fatalf("expected one wire placement, got %d", gw.places)
	}
}

func TestPlacementWithoutClientIDIsPassedThrough(t *testing.T) {
	gw := &mockGateway{}
	executor := New(gw, newMemoryStore(), zap.NewNop())
	ctx := context.Background()
	req := venue.OrderRequest{Symbol: "BTC-USD", Side: venue.SideBuy, Qty: 1, Price: 100}

	if _, err := executor.PlaceOrder(ctx, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := executor.PlaceOrder(ctx, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.places != 2 {
		t.Fatalf("expected two placements without client id, got %d", gw.places)
	}
}

func TestCancelRetriesUntilSuccess(t *testing.T) {
	gw := &mockGateway{cancelFails: 2}
	executor := New(gw, newMemoryStore(), zap.NewNop())

	if err := executor.CancelOrder(context.Background(), "oid-1"); err != nil {
		t.Fatalf("expected retried cancel to succeed, got %v", err)
	}
	if gw.cancels != 3 {
		t.Fatalf("expected 3 cancel attempts, got %d", gw.cancels)
	}
}

func TestCancelGivesUpAfterRetries(t *testing.T) {
	gw := &mockGateway{cancelFails: 10}
	executor := New(gw, newMemoryStore(), zap.NewNop())

	if err := executor.CancelOrder(context.Background(), "oid-1"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if gw.cancels != 3 {
		t.Fatalf("expected 3 cancel attempts, got %d", gw.cancels)
	}
}
