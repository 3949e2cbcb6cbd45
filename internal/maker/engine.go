// Package maker owns the authoritative set of resting orders on the maker
// venue: placement, replacement, cancellation, and idempotent fill
// reconciliation.
package maker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"mm-hedge-bot/internal/config"
	"mm-hedge-bot/internal/exec"
	"mm-hedge-bot/internal/metrics"
	"mm-hedge-bot/internal/offset"
	"mm-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

type Engine struct {
	cfg      config.StrategyConfig
	executor *exec.Executor
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu sync.Mutex
	// orders tracks every order until the venue reports a terminal status,
	// including orders we have already asked to cancel, so a fill that races
	// a cancel is still harvested by Reconcile.
	orders map[string]venue.Order
	// reported is the per-order filled-quantity high-water mark already
	// emitted as fill events.
	reported map[string]float64
	bySide   map[venue.Side]string
	// pending holds the client order ID for a placement that has not
	// succeeded yet. A retry of the same quote reuses the same ID, so an
	// ambiguous wire error cannot turn into two live orders on one side.
	pending map[venue.Side]quoteIntent
}

type quoteIntent struct {
	cloid string
	price float64
}

func New(cfg config.StrategyConfig, executor *exec.Executor, m *metrics.Metrics, log *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		executor: executor,
		log:      log,
		metrics:  m,
		orders:   make(map[string]venue.Order),
		reported: make(map[string]float64),
		bySide:   make(map[venue.Side]string),
		pending:  make(map[venue.Side]quoteIntent),
	}
}

// Sync drives both sides toward the target quotes. With shouldTrade false it
// cancels everything and places nothing. Placement and cancel errors are
// reported to the caller; the affected side is simply retried next cycle.
func (e *Engine) Sync(ctx context.Context, buy, sell offset.Result, shouldTrade bool) error {
	if !shouldTrade {
		return e.CancelAll(ctx)
	}
	return errors.Join(
		e.syncSide(ctx, venue.SideBuy, buy),
		e.syncSide(ctx, venue.SideSell, sell),
	)
}

func (e *Engine) syncSide(ctx context.Context, side venue.Side, target offset.Result) error {
	if target.LimitPrice <= 0 {
		return fmt.Errorf("%s: target price is invalid", side)
	}
	e.mu.Lock()
	current, hasCurrent := e.activeOnSide(side)
	e.mu.Unlock()

	if hasCurrent && e.withinTolerance(current.Price, target.LimitPrice) {
		return nil
	}
	if hasCurrent {
		if err := e.cancelOrder(ctx, current.OrderID); err != nil {
			e.metrics.OrdersFailed.Inc()
			return fmt.Errorf("%s: cancel stale order: %w", side, err)
		}
	}
	e.mu.Lock()
	intent, hasIntent := e.pending[side]
	if !hasIntent || intent.price != target.LimitPrice {
		intent = quoteIntent{cloid: uuid.NewString(), price: target.LimitPrice}
		e.pending[side] = intent
	}
	e.mu.Unlock()

	order, err := e.executor.PlaceOrder(ctx, venue.OrderRequest{
		Symbol:        e.cfg.Symbol,
		Side:          side,
		Type:          venue.TypeLimit,
		Qty:           e.cfg.OrderQty,
		Price:         target.LimitPrice,
		Tif:           venue.TifGtc,
		ClientOrderID: intent.cloid,
	})
	if err != nil {
		// The intent stays pending: the next attempt reuses the same client
		// order ID and the venue's client-ID dedupe decides whether this
		// attempt actually landed.
		e.metrics.OrdersFailed.Inc()
		return fmt.Errorf("%s: place order: %w", side, err)
	}
	e.metrics.OrdersPlaced.Inc()
	e.mu.Lock()
	delete(e.pending, side)
	if order.Status == "" {
		order.Status = venue.StatusActive
	}
	e.orders[order.OrderID] = order
	e.bySide[side] = order.OrderID
	e.mu.Unlock()
	e.log.Debug("placed resting order",
		zap.String("side", string(side)),
		zap.String("order_id", order.OrderID),
		zap.Float64("price", order.Price),
	)
	return nil
}

// Reconcile polls venue-reported status for every tracked order and emits one
// fill event per quantity increment observed since the previous call. A
// status that has not changed yields nothing, so reconciling twice is safe.
func (e *Engine) Reconcile(ctx context.Context) ([]venue.FillEvent, error) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.orders))
	for id := range e.orders {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	var fills []venue.FillEvent
	var errs []error
	for _, id := range ids {
		order, err := e.executor.OrderStatus(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("status %s: %w", id, err))
			continue
		}
		e.mu.Lock()
		newQty := order.FilledQty - e.reported[id]
		if newQty > 0 {
			price := order.AvgFillPrice
			if price <= 0 {
				price = order.Price
			}
			fills = append(fills, venue.FillEvent{
				OrderID:    id,
				Symbol:     order.Symbol,
				Side:       order.Side,
				Price:      price,
				Qty:        newQty,
				Cumulative: order.FilledQty,
				Time:       order.UpdatedAt,
			})
			e.reported[id] = order.FilledQty
			e.metrics.FillsObserved.Inc()
		}
		if order.Status.Terminal() {
			delete(e.orders, id)
			delete(e.reported, id)
			if e.bySide[order.Side] == id {
				delete(e.bySide, order.Side)
			}
		} else {
			e.orders[id] = order
		}
		e.mu.Unlock()
	}
	return fills, errors.Join(errs...)
}

// CancelAll asks the venue to cancel every non-terminal order. Orders stay
// tracked until Reconcile observes the terminal status so no racing fill is
// lost, but they are marked cancelled locally: ActiveOrders is empty as soon
// as CancelAll returns without error.
func (e *Engine) CancelAll(ctx context.Context) error {
	e.mu.Lock()
	var pending []venue.Order
	for _, order := range e.orders {
		if !order.Status.Terminal() && order.Status != venue.StatusCancelled {
			pending = append(pending, order)
		}
	}
	e.mu.Unlock()

	var errs []error
	for _, order := range pending {
		if err := e.cancelOrder(ctx, order.OrderID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", order.OrderID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) cancelOrder(ctx context.Context, orderID string) error {
	if err := e.executor.CancelOrder(ctx, orderID); err != nil {
		e.metrics.OrdersFailed.Inc()
		return err
	}
	e.metrics.OrdersCancelled.Inc()
	e.mu.Lock()
	if order, ok := e.orders[orderID]; ok {
		order.Status = venue.StatusCancelled
		e.orders[orderID] = order
		if e.bySide[order.Side] == orderID {
			delete(e.bySide, order.Side)
		}
	}
	e.mu.Unlock()
	return nil
}

// ActiveOrders lists orders still considered resting on the venue.
func (e *Engine) ActiveOrders() []venue.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var active []venue.Order
	for _, order := range e.orders {
		if order.Status == venue.StatusActive || order.Status == venue.StatusPartiallyFilled {
			active = append(active, order)
		}
	}
	return active
}

func (e *Engine) activeOnSide(side venue.Side) (venue.Order, bool) {
	id, ok := e.bySide[side]
	if !ok {
		return venue.Order{}, false
	}
	order, ok := e.orders[id]
	if !ok || (order.Status != venue.StatusActive && order.Status != venue.StatusPartiallyFilled) {
		return venue.Order{}, false
	}
	return order, true
}

func (e *Engine) withinTolerance(current, target float64) bool {
	return math.Abs(current-target) <= e.cfg.ReplaceTolTicks*e.cfg.TickSize
}
