package hedge

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"mm-hedge-bot/internal/analyzer"
	"mm-hedge-bot/internal/breaker"
	"mm-hedge-bot/internal/config"
	"mm-hedge-bot/internal/metrics"
	"mm-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

type scriptedGateway struct {
	mu       sync.Mutex
	placed   []venue.OrderRequest
	placeErr error
	// final is the order state reported by every status poll.
	final venue.Order
}

func (g *scriptedGateway) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.Order, error) {
	_ = ctx
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placeErr != nil {
		return venue.Order{}, g.placeErr
	}
	g.placed = append(g.placed, req)
	return venue.Order{OrderID: "h-1", Symbol: req.Symbol, Side: req.Side, Qty: req.Qty, Status: venue.StatusActive}, nil
}

func (g *scriptedGateway) OrderStatus(ctx context.Context, orderID string) (venue.Order, error) {
	_ = ctx
	g.mu.Lock()
	defer g.mu.Unlock()
	order := g.final
	order.OrderID = orderID
	return order, nil
}

func (g *scriptedGateway) CancelOrder(ctx context.Context, orderID string) error {
	_ = ctx
	_ = orderID
	return nil
}

func newTestExecutor(gw venue.OrderGateway) (*Executor, *breaker.Breaker) {
	return newTestExecutorWithTolerance(gw, 0.25)
}

func newTestExecutorWithTolerance(gw venue.OrderGateway, deltaTol float64) (*Executor, *breaker.Breaker) {
	cfg := config.HedgeConfig{
		ConfirmTimeout:   50 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		PartialTolerance: 0.10,
		HistorySize:      10,
	}
	logger := zap.NewNop()
	brk := breaker.New(config.BreakerConfig{
		VolRatioThreshold: 2.5,
		CorrelationFloor:  0.5,
		MaxFailures:       3,
		FailureWindow:     10 * time.Minute,
		MaxConsecutive:    2,
		BaseCooldown:      time.Minute,
		MaxSeverity:       5,
	}, logger)
	return New(cfg, "BTC-USD", deltaTol, gw, brk, metrics.NewNoop(), logger), brk
}

func calmAnalysis() analyzer.Analysis {
	return analyzer.Analysis{VolatilityRatio: 1, Correlation: 0.95, RegimeMultiplier: 1, Ready: true}
}

func buyFill(qty float64) venue.FillEvent {
	return venue.FillEvent{OrderID: "m-1", Symbol: "BTC-USD", Side: venue.SideBuy, Price: 100, Qty: qty, Cumulative: qty, Time: time.Now()}
}

func TestSuccessfulHedgeRestoresNeutrality(t *testing.T) {
	gw := &scriptedGateway{final: venue.Order{Status: venue.StatusFilled, FilledQty: 1, AvgFillPrice: 99.9}}
	x, _ := newTestExecutor(gw)

	result := x.Execute(context.Background(), buyFill(1))
	if !result.Success || result.Status != StatusSuccess {
		t.Fatalf("expected SUCCESS, got %+v", result)
	}
	if result.RequiresManualIntervention {
		t.Fatal("successful hedge must not escalate")
	}
	// Buy fill at 100 hedged with a sell at 99.9 loses 10bps.
	if math.Abs(result.SlippageBps-10) > 0.01 {
		t.Fatalf("expected ~10bps slippage, got %f", result.SlippageBps)
	}
	pos := x.Position()
	if pos.NetDelta != 0 {
		t.Fatalf("expected flat net delta, got %f", pos.NetDelta)
	}
	if len(gw.placed) != 1 {
		t.Fatalf("expected one hedge order, got %d", len(gw.placed))
	}
	req := gw.placed[0]
	if req.Side != venue.SideSell || req.Type != venue.TypeMarket || req.Tif != venue.TifIoc {
		t.Fatalf("expected IOC market sell, got %+v", req)
	}
}

func TestTimeoutIsBoundedAndEscalates(t *testing.T) {
	gw := &scriptedGateway{final: venue.Order{Status: venue.StatusActive}}
	x, _ := newTestExecutor(gw)

	start := time.Now()
	result := x.Execute(context.Background(), buyFill(1))
	elapsed := time.Since(start)

	if result.Status != StatusTimeout {
		t.Fatalf("expected TIMEOUT, got %s", result.Status)
	}
	if !result.RequiresManualIntervention {
		t.Fatal("timeout must require manual intervention")
	}
	if !x.EmergencyActive() {
		t.Fatal("timeout must raise the emergency flag")
	}
	// Bounded: confirm_timeout plus one poll plus scheduling slack.
	if elapsed > 500*time.Millisecond {
		t.Fatalf("hedge did not resolve within its budget, took %s", elapsed)
	}
	// The maker leg is real even though the hedge is unconfirmed.
	pos := x.Position()
	if pos.Maker != 1 || pos.NetDelta != 1 {
		t.Fatalf("expected unhedged maker exposure, got %+v", pos)
	}
}

func TestRejectedHedgeEscalates(t *testing.T) {
	gw := &scriptedGateway{final: venue.Order{Status: venue.StatusRejected}}
	x, _ := newTestExecutor(gw)

	result := x.Execute(context.Background(), buyFill(1))
	if result.Status != StatusReject {
		t.Fatalf("expected REJECTED, got %s", result.Status)
	}
	if !result.RequiresManualIntervention || !x.EmergencyActive() {
		t.Fatal("rejection must escalate")
	}
}

func TestSubmitFailureEscalates(t *testing.T) {
	gw := &scriptedGateway{placeErr: errors.New("connection reset")}
	x, _ := newTestExecutor(gw)

	result := x.Execute(context.Background(), buyFill(1))
	if result.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	if !result.RequiresManualIntervention {
		t.Fatal("submit failure must escalate")
	}
	if pos := x.Position(); pos.NetDelta != 1 {
		t.Fatalf("maker leg must still be recorded, got %+v", pos)
	}
}

func TestPartialWithinToleranceSucceeds(t *testing.T) {
	gw := &scriptedGateway{final: venue.Order{Status: venue.StatusPartiallyFilled, FilledQty: 0.95, AvgFillPrice: 99.9}}
	x, _ := newTestExecutor(gw)

	result := x.Execute(context.Background(), buyFill(1))
	if result.Status != StatusPartial {
		t.Fatalf("expected PARTIAL, got %s", result.Status)
	}
	if !result.Success || result.RequiresManualIntervention {
		t.Fatalf("5%% remainder is within tolerance, got %+v", result)
	}
	if pos := x.Position(); math.Abs(pos.NetDelta-0.05) > 1e-9 {
		t.Fatalf("expected 0.05 residual delta, got %f", pos.NetDelta)
	}
}

func TestResidualBeyondDeltaToleranceEscalates(t *testing.T) {
	gw := &scriptedGateway{final: venue.Order{Status: venue.StatusPartiallyFilled, FilledQty: 0.95, AvgFillPrice: 99.9}}
	x, _ := newTestExecutorWithTolerance(gw, 0.01)

	result := x.Execute(context.Background(), buyFill(1))
	if result.Status != StatusPartial {
		t.Fatalf("expected PARTIAL, got %s", result.Status)
	}
	// The remainder is within the partial-fill tolerance, but the book is
	// left 0.05 off neutral, which the delta band does not allow.
	if result.Success {
		t.Fatal("residual delta beyond tolerance must not count as success")
	}
	if !result.RequiresManualIntervention || !x.EmergencyActive() {
		t.Fatalf("residual delta beyond tolerance must escalate, got %+v", result)
	}
}

func TestPartialBeyondToleranceEscalates(t *testing.T) {
	gw := &scriptedGateway{final: venue.Order{Status: venue.StatusPartiallyFilled, FilledQty: 0.5, AvgFillPrice: 99.9}}
	x, _ := newTestExecutor(gw)

	result := x.Execute(context.Background(), buyFill(1))
	if result.Status != StatusPartial || result.Success {
		t.Fatalf("expected failed PARTIAL, got %+v", result)
	}
	if !result.RequiresManualIntervention {
		t.Fatal("large remainder must escalate")
	}
}

func TestConsecutiveCriticalFailuresFeedBreaker(t *testing.T) {
	gw := &scriptedGateway{final: venue.Order{Status: venue.StatusActive}}
	x, brk := newTestExecutor(gw)

	x.Execute(context.Background(), buyFill(1))
	x.Execute(context.Background(), buyFill(1))

	d := brk.Evaluate(calmAnalysis())
	if !d.Tripped {
		t.Fatalf("two critical hedge failures should trip the breaker, got %+v", d)
	}
}

func TestEmergencyFlattenRestoresNeutrality(t *testing.T) {
	gw := &scriptedGateway{final: venue.Order{Status: venue.StatusActive}}
	x, _ := newTestExecutor(gw)

	// Build unhedged exposure via a timed-out hedge.
	x.Execute(context.Background(), buyFill(1))
	if pos := x.Position(); pos.NetDelta != 1 {
		t.Fatalf("setup: expected net delta 1, got %f", pos.NetDelta)
	}

	gw.mu.Lock()
	gw.final = venue.Order{Status: venue.StatusFilled, FilledQty: 1, AvgFillPrice: 99.5}
	gw.mu.Unlock()

	result, err := x.EmergencyFlatten(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected successful flatten, got %+v", result)
	}
	if pos := x.Position(); pos.NetDelta != 0 {
		t.Fatalf("expected flat book after flatten, got %f", pos.NetDelta)
	}
	last := gw.placed[len(gw.placed)-1]
	if last.Side != venue.SideSell || last.Qty != 1 {
		t.Fatalf("expected sell 1 to flatten, got %+v", last)
	}
}

func TestFlattenWithFlatBookIsNoop(t *testing.T) {
	gw := &scriptedGateway{}
	x, _ := newTestExecutor(gw)

	result, err := x.EmergencyFlatten(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected trivial success, got %+v", result)
	}
	if len(gw.placed) != 0 {
		t.Fatalf("flat book must not place orders, got %d", len(gw.placed))
	}
}

func TestHistoryIsBounded(t *testing.T) {
	gw := &scriptedGateway{final: venue.Order{Status: venue.StatusFilled, FilledQty: 0.1, AvgFillPrice: 100}}
	x, _ := newTestExecutor(gw)

	for i := 0; i < 15; i++ {
		x.Execute(context.Background(), buyFill(0.1))
	}
	if got := len(x.History()); got != 10 {
		t.Fatalf("expected history capped at 10, got %d", got)
	}
	stats := x.Stats()
	if stats.Attempts != 15 || stats.Successes != 15 {
		t.Fatalf("stats must cover all attempts, got %+v", stats)
	}
}
