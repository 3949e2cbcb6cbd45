// Package hedge fires the compensating order on the hedge venue for every
// maker fill and owns the authoritative two-legged position state.
package hedge

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mm-hedge-bot/internal/breaker"
	"mm-hedge-bot/internal/config"
	"mm-hedge-bot/internal/metrics"
	"mm-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusPartial Status = "PARTIAL"
	StatusTimeout Status = "TIMEOUT"
	StatusReject  Status = "REJECTED"
	StatusFailed  Status = "FAILED"
)

type Result struct {
	Success                    bool
	Status                     Status
	OrderID                    string
	HedgePrice                 float64
	HedgeQty                   float64
	SlippageBps                float64
	ExecutionTime              time.Duration
	RequiresManualIntervention bool
	Reason                     string
	Time                       time.Time
}

// Position is the combined exposure across both venues. Only the hedge
// executor writes it; everything else reads copies.
type Position struct {
	Maker    float64
	Hedge    float64
	NetDelta float64
}

type Stats struct {
	Attempts    int
	Successes   int
	Failures    int
	AvgExecTime time.Duration
}

type Executor struct {
	cfg      config.HedgeConfig
	symbol   string
	deltaTol float64
	gateway  venue.OrderGateway
	breaker  *breaker.Breaker
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu        sync.Mutex
	pos       Position
	history   []Result
	stats     Stats
	totalExec time.Duration
	emergency bool
}

// New builds an executor for one symbol. deltaTol is the absolute net-delta
// band the book must return to after every resolved hedge; a wider residual
// escalates even when the hedge itself was within its partial-fill tolerance.
func New(cfg config.HedgeConfig, symbol string, deltaTol float64, gateway venue.OrderGateway, brk *breaker.Breaker, m *metrics.Metrics, log *zap.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		symbol:   symbol,
		deltaTol: deltaTol,
		gateway:  gateway,
		breaker:  brk,
		metrics:  m,
		log:      log,
	}
}

// Execute hedges one maker fill to completion. The caller processes fills
// strictly one at a time, so position updates need no further coordination.
// Every outcome is terminal within confirm_timeout + poll_interval.
func (x *Executor) Execute(ctx context.Context, fill venue.FillEvent) Result {
	// The maker leg is real regardless of how the hedge resolves.
	x.applyMaker(fill)

	start := time.Now()
	hedgeSide := fill.Side.Opposite()
	order, err := x.gateway.PlaceOrder(ctx, venue.OrderRequest{
		Symbol:        x.symbol,
		Side:          hedgeSide,
		Type:          venue.TypeMarket,
		Qty:           fill.Qty,
		Tif: venue.TifIoc,
		// Deterministic per fill event: a re-submission for the same fill
		// carries the same ID and dedupes instead of doubling the hedge.
		ClientOrderID: fmt.Sprintf("hedge-%s-%.8f", fill.OrderID, fill.Cumulative),
	})
	if err != nil {
		return x.resolve(Result{
			Status:                     StatusFailed,
			RequiresManualIntervention: true,
			Reason:                     fmt.Sprintf("hedge submit: %v", err),
			ExecutionTime:              time.Since(start),
		}, hedgeSide, true)
	}

	final, confirmErr := x.awaitConfirmation(ctx, order.OrderID)
	elapsed := time.Since(start)
	if confirmErr != nil {
		// Transport failure mid-confirmation: the hedge may or may not be
		// live, which is exactly what manual intervention is for.
		x.applyHedge(hedgeSide, final.FilledQty)
		return x.resolve(Result{
			Status:                     StatusFailed,
			OrderID:                    order.OrderID,
			HedgeQty:                   final.FilledQty,
			RequiresManualIntervention: true,
			Reason:                     fmt.Sprintf("hedge confirm: %v", confirmErr),
			ExecutionTime:              elapsed,
		}, hedgeSide, true)
	}

	x.applyHedge(hedgeSide, final.FilledQty)
	result := Result{
		OrderID:       order.OrderID,
		HedgePrice:    final.AvgFillPrice,
		HedgeQty:      final.FilledQty,
		SlippageBps:   slippageBps(fill.Price, final.AvgFillPrice, hedgeSide),
		ExecutionTime: elapsed,
	}

	switch {
	case final.Status == venue.StatusFilled:
		result.Success = true
		result.Status = StatusSuccess
	case final.Status == venue.StatusRejected || final.Status == venue.StatusCancelled:
		result.Status = StatusReject
		result.RequiresManualIntervention = true
		result.Reason = fmt.Sprintf("hedge order %s by venue", final.Status)
	case final.FilledQty > 0:
		result.Status = StatusPartial
		remainder := (fill.Qty - final.FilledQty) / fill.Qty
		if remainder > x.cfg.PartialTolerance {
			result.RequiresManualIntervention = true
			result.Reason = fmt.Sprintf("hedge filled %.6f of %.6f, remainder %.1f%% beyond tolerance",
				final.FilledQty, fill.Qty, remainder*100)
		} else {
			result.Success = true
		}
	default:
		result.Status = StatusTimeout
		result.RequiresManualIntervention = true
		result.Reason = fmt.Sprintf("no terminal status within %s", x.cfg.ConfirmTimeout)
	}
	critical := result.Status != StatusPartial
	return x.resolve(result, hedgeSide, critical)
}

// awaitConfirmation polls order status until a terminal state or the hard
// wall-clock budget. The last observed order is returned on budget expiry so
// partial fills are never dropped.
func (x *Executor) awaitConfirmation(ctx context.Context, orderID string) (venue.Order, error) {
	deadline := time.NewTimer(x.cfg.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(x.cfg.PollInterval)
	defer ticker.Stop()

	var last venue.Order
	for {
		order, err := x.gateway.OrderStatus(ctx, orderID)
		if err != nil {
			return last, err
		}
		last = order
		if order.Status.Terminal() {
			return order, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			return last, nil
		case <-ticker.C:
		}
	}
}

// EmergencyFlatten submits a single compensating order sized to the current
// net delta. It is the designated manual-recovery action and never runs
// automatically.
func (x *Executor) EmergencyFlatten(ctx context.Context) (Result, error) {
	x.mu.Lock()
	delta := x.pos.NetDelta
	x.mu.Unlock()
	if delta == 0 {
		return Result{Success: true, Status: StatusSuccess, Time: time.Now().UTC()}, nil
	}
	side := venue.SideSell
	qty := delta
	if delta < 0 {
		side = venue.SideBuy
		qty = -delta
	}
	start := time.Now()
	order, err := x.gateway.PlaceOrder(ctx, venue.OrderRequest{
		Symbol:        x.symbol,
		Side:          side,
		Type:          venue.TypeMarket,
		Qty:           qty,
		Tif:           venue.TifIoc,
		ClientOrderID: "flatten-" + uuid.NewString(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("flatten submit: %w", err)
	}
	final, confirmErr := x.awaitConfirmation(ctx, order.OrderID)
	x.applyHedge(side, final.FilledQty)
	result := Result{
		Success:       final.Status == venue.StatusFilled,
		Status:        StatusSuccess,
		OrderID:       order.OrderID,
		HedgePrice:    final.AvgFillPrice,
		HedgeQty:      final.FilledQty,
		ExecutionTime: time.Since(start),
		Time:          time.Now().UTC(),
	}
	if confirmErr != nil {
		return result, fmt.Errorf("flatten confirm: %w", confirmErr)
	}
	if !result.Success {
		result.Status = StatusPartial
		return result, fmt.Errorf("flatten filled %.6f of %.6f", final.FilledQty, qty)
	}
	x.log.Info("emergency flatten complete", zap.Float64("qty", final.FilledQty), zap.String("side", string(side)))
	return result, nil
}

func (x *Executor) Position() Position {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.pos
}

func (x *Executor) Stats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stats
}

func (x *Executor) History() []Result {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]Result(nil), x.history...)
}

func (x *Executor) EmergencyActive() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.emergency
}

// ClearEmergency is invoked from the operator resume path only.
func (x *Executor) ClearEmergency() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.emergency = false
}

func (x *Executor) applyMaker(fill venue.FillEvent) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if fill.Side == venue.SideBuy {
		x.pos.Maker += fill.Qty
	} else {
		x.pos.Maker -= fill.Qty
	}
	x.pos.NetDelta = x.pos.Maker + x.pos.Hedge
}

func (x *Executor) applyHedge(side venue.Side, qty float64) {
	if qty <= 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if side == venue.SideBuy {
		x.pos.Hedge += qty
	} else {
		x.pos.Hedge -= qty
	}
	x.pos.NetDelta = x.pos.Maker + x.pos.Hedge
}

func (x *Executor) resolve(result Result, hedgeSide venue.Side, critical bool) Result {
	result.Time = time.Now().UTC()
	if !result.RequiresManualIntervention && x.deltaTol > 0 {
		x.mu.Lock()
		residual := x.pos.NetDelta
		x.mu.Unlock()
		if math.Abs(residual) > x.deltaTol {
			result.Success = false
			result.RequiresManualIntervention = true
			result.Reason = fmt.Sprintf("net delta %.8f beyond tolerance %.8f after hedge", residual, x.deltaTol)
		}
	}
	x.mu.Lock()
	x.stats.Attempts++
	x.totalExec += result.ExecutionTime
	x.stats.AvgExecTime = x.totalExec / time.Duration(x.stats.Attempts)
	if result.Success {
		x.stats.Successes++
	} else {
		x.stats.Failures++
	}
	if result.RequiresManualIntervention {
		x.emergency = true
	}
	x.history = append(x.history, result)
	if x.cfg.HistorySize > 0 && len(x.history) > x.cfg.HistorySize {
		x.history = x.history[len(x.history)-x.cfg.HistorySize:]
	}
	delta := x.pos.NetDelta
	x.mu.Unlock()

	if result.Success {
		x.metrics.HedgesSucceeded.Inc()
		x.breaker.RegisterHedgeSuccess()
	} else {
		x.metrics.HedgesFailed.Inc()
	}
	if result.RequiresManualIntervention {
		x.breaker.RegisterHedgeFailure(critical)
		x.log.Error("hedge requires manual intervention",
			zap.String("status", string(result.Status)),
			zap.String("reason", result.Reason),
			zap.String("hedge_side", string(hedgeSide)),
			zap.Float64("net_delta", delta),
		)
	} else {
		x.log.Info("hedge resolved",
			zap.String("status", string(result.Status)),
			zap.Float64("qty", result.HedgeQty),
			zap.Float64("slippage_bps", result.SlippageBps),
			zap.Duration("exec_time", result.ExecutionTime),
			zap.Float64("net_delta", delta),
		)
	}
	return result
}

// slippageBps is the adverse move of the hedge execution against the maker
// fill price, positive when the hedge lost edge.
func slippageBps(fillPrice, hedgePrice float64, hedgeSide venue.Side) float64 {
	if fillPrice <= 0 || hedgePrice <= 0 {
		return 0
	}
	fp := decimal.NewFromFloat(fillPrice)
	hp := decimal.NewFromFloat(hedgePrice)
	var adverse decimal.Decimal
	if hedgeSide == venue.SideSell {
		adverse = fp.Sub(hp)
	} else {
		adverse = hp.Sub(fp)
	}
	bps, _ := adverse.Div(fp).Mul(decimal.NewFromInt(10000)).Float64()
	return bps
}
