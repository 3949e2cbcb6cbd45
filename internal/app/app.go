package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mm-hedge-bot/internal/alerts"
	"mm-hedge-bot/internal/analyzer"
	"mm-hedge-bot/internal/breaker"
	"mm-hedge-bot/internal/config"
	"mm-hedge-bot/internal/exec"
	"mm-hedge-bot/internal/hedge"
	"mm-hedge-bot/internal/maker"
	"mm-hedge-bot/internal/metrics"
	"mm-hedge-bot/internal/offset"
	"mm-hedge-bot/internal/state"
	"mm-hedge-bot/internal/timescale"
	"mm-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Deps are the external collaborators, injected so every venue-facing
// surface stays a capability interface.
type Deps struct {
	MakerData    venue.MarketData
	HedgeData    venue.MarketData
	MakerGateway venue.OrderGateway
	HedgeGateway venue.OrderGateway
	Store        state.Store
	Metrics      *metrics.Metrics
	Timescale    *timescale.Writer
	Alerts       *alerts.Telegram
}

// App sequences one cooperative control loop for the traded symbol. Each
// cycle flows market data through the analyzer, breaker, offsets, order sync,
// and fill hedging, in that order; no two flows mutate the same state.
type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	metrics   *metrics.Metrics
	timescale *timescale.Writer
	alerts    *alerts.Telegram

	makerData venue.MarketData
	hedgeData venue.MarketData

	analyzer *analyzer.Analyzer
	breaker  *breaker.Breaker
	maker    *maker.Engine
	hedger   *hedge.Executor

	opsMu          sync.RWMutex
	tradingActive  bool
	haltReason     string
	tradesToday    int
	tradesDay      time.Time
	lastAnalysis   analyzer.Analysis
	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger, deps Deps) (*App, error) {
	if deps.MakerData == nil || deps.HedgeData == nil {
		return nil, errors.New("market data sources are required")
	}
	if deps.MakerGateway == nil || deps.HedgeGateway == nil {
		return nil, errors.New("order gateways are required")
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	brk := breaker.New(cfg.Breaker, log)
	makerExec := exec.New(deps.MakerGateway, deps.Store, log)
	hedgeExec := exec.New(deps.HedgeGateway, deps.Store, log)
	return &App{
		cfg:           cfg,
		log:           log,
		store:         deps.Store,
		metrics:       m,
		timescale:     deps.Timescale,
		alerts:        deps.Alerts,
		makerData:     deps.MakerData,
		hedgeData:     deps.HedgeData,
		analyzer:      analyzer.New(cfg.Analyzer),
		breaker:       brk,
		maker:         maker.New(cfg.Strategy, makerExec, m, log),
		hedger:        hedge.New(cfg.Hedge, cfg.Strategy.Symbol, cfg.Strategy.DeltaTolerance, hedgeExec, brk, m, log),
		tradingActive: true,
		tradesDay:     time.Now().UTC(),
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	if a.store != nil {
		defer a.store.Close()
	}
	a.restoreRuntime(ctx)
	a.timescale.Start(ctx)
	a.startOperator(ctx)

	ticker := time.NewTicker(a.cfg.Strategy.LoopInterval)
	defer ticker.Stop()

	a.log.Info("control loop started",
		zap.String("symbol", a.cfg.Strategy.Symbol),
		zap.Duration("interval", a.cfg.Strategy.LoopInterval),
	)
	for {
		select {
		case <-ctx.Done():
			return a.shutdown(ctx.Err())
		case <-ticker.C:
			if err := a.cycle(ctx); err != nil {
				a.log.Warn("cycle failed", zap.Error(err))
			}
		}
	}
}

func (a *App) cycle(ctx context.Context) error {
	start := time.Now()
	a.metrics.Cycles.Inc()

	makerBook, hedgeBook, err := a.fetchBooks(ctx)
	if err != nil {
		// Transient data error: skip the cycle, no state change.
		a.metrics.CyclesSkipped.Inc()
		a.log.Warn("snapshot fetch failed, skipping cycle", zap.Error(err))
		a.sleep(ctx, a.cfg.Strategy.FetchBackoff)
		return nil
	}

	analysis := a.analyzer.Observe(makerBook, hedgeBook)
	a.setLastAnalysis(analysis)

	decision := a.breaker.Evaluate(analysis)
	if decision.Tripped {
		return a.handleTrip(ctx, analysis, decision, start)
	}
	if decision.Allow {
		a.metrics.CooldownActive.Set(0)
	}

	shouldTrade := decision.Allow && a.IsTradingActive() && !a.hedger.EmergencyActive() && a.underDailyLimit()
	var buy, sell offset.Result
	if shouldTrade {
		buy = offset.Calc(analysis, makerBook, venue.SideBuy, a.cfg.Strategy)
		sell = offset.Calc(analysis, makerBook, venue.SideSell, a.cfg.Strategy)
	}
	if err := a.maker.Sync(ctx, buy, sell, shouldTrade); err != nil {
		a.log.Warn("order sync failed", zap.Error(err))
	}

	fills, err := a.maker.Reconcile(ctx)
	if err != nil {
		a.log.Warn("fill reconciliation failed", zap.Error(err))
	}
	for _, fill := range fills {
		a.handleFill(ctx, fill)
	}

	a.metrics.NetDelta.Set(a.hedger.Position().NetDelta)
	elapsed := time.Since(start)
	a.metrics.CycleSeconds.Set(elapsed.Seconds())
	if elapsed > a.cfg.Strategy.CycleBudget {
		a.log.Warn("cycle exceeded budget",
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", a.cfg.Strategy.CycleBudget),
		)
	}
	a.recordCycle(analysis, elapsed)
	a.savePosition(ctx)
	return nil
}

// handleFill hedges one maker fill to completion before the caller moves to
// the next, which is what keeps position state single-writer.
func (a *App) handleFill(ctx context.Context, fill venue.FillEvent) {
	result := a.hedger.Execute(ctx, fill)
	a.bumpTrades(ctx)
	a.recordHedge(result)
	if result.RequiresManualIntervention {
		a.halt(ctx, fmt.Sprintf("hedge %s: %s", result.Status, result.Reason))
	}
}

func (a *App) handleTrip(ctx context.Context, analysis analyzer.Analysis, decision breaker.Decision, start time.Time) error {
	a.metrics.BreakerTrips.Inc()
	a.metrics.CooldownActive.Set(1)
	if err := a.maker.CancelAll(ctx); err != nil {
		a.log.Error("cancel-all after breaker trip failed", zap.Error(err))
	}
	a.breaker.ConfirmCancelled()
	a.notify(ctx, fmt.Sprintf("Circuit breaker triggered: %s (severity %.2f, cooldown until %s)",
		decision.State.Reason, decision.State.Severity, decision.State.CooldownUntil.Format(time.RFC3339)))
	a.recordCycle(analysis, time.Since(start))
	// The cooldown is a scheduled resumption: sleep it out before the loop
	// re-evaluates.
	a.sleepUntil(ctx, decision.State.CooldownUntil)
	return nil
}

// fetchBooks issues both snapshot requests concurrently and waits for both.
// This is the only point in the loop where work runs in parallel.
func (a *App) fetchBooks(ctx context.Context) (venue.BookSnapshot, venue.BookSnapshot, error) {
	symbol := a.cfg.Strategy.Symbol
	type bookResult struct {
		snap venue.BookSnapshot
		err  error
	}
	makerCh := make(chan bookResult, 1)
	hedgeCh := make(chan bookResult, 1)
	go func() {
		snap, err := a.makerData.BestBidAsk(ctx, symbol)
		makerCh <- bookResult{snap, err}
	}()
	go func() {
		snap, err := a.hedgeData.BestBidAsk(ctx, symbol)
		hedgeCh <- bookResult{snap, err}
	}()
	makerRes := <-makerCh
	hedgeRes := <-hedgeCh
	if makerRes.err != nil {
		return venue.BookSnapshot{}, venue.BookSnapshot{}, fmt.Errorf("maker venue: %w", makerRes.err)
	}
	if hedgeRes.err != nil {
		return venue.BookSnapshot{}, venue.BookSnapshot{}, fmt.Errorf("hedge venue: %w", hedgeRes.err)
	}
	return makerRes.snap, hedgeRes.snap, nil
}

func (a *App) shutdown(cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.maker.CancelAll(ctx); err != nil {
		a.log.Error("cancel-all on shutdown failed", zap.Error(err))
	}
	a.savePosition(ctx)
	a.log.Info("control loop stopped")
	return cause
}

// halt stops new order placement. Resumption is always an explicit operator
// action.
func (a *App) halt(ctx context.Context, reason string) {
	a.opsMu.Lock()
	alreadyHalted := !a.tradingActive
	a.tradingActive = false
	a.haltReason = reason
	a.opsMu.Unlock()
	if alreadyHalted {
		return
	}
	a.metrics.EmergencyHalts.Inc()
	a.log.Error("trading halted", zap.String("reason", reason))
	a.notify(ctx, "Trading halted: "+reason)
}

// ForceEmergencyStop is the operator kill switch.
func (a *App) ForceEmergencyStop(ctx context.Context) {
	a.halt(ctx, "operator emergency stop")
	if err := a.maker.CancelAll(ctx); err != nil {
		a.log.Error("cancel-all on emergency stop failed", zap.Error(err))
	}
}

// ResumeTrading clears the halt plus the breaker and hedge emergency flags.
func (a *App) ResumeTrading() {
	a.opsMu.Lock()
	a.tradingActive = true
	a.haltReason = ""
	a.opsMu.Unlock()
	a.hedger.ClearEmergency()
	a.breaker.ForceReset()
	a.log.Info("trading resumed by operator")
}

func (a *App) IsTradingActive() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.tradingActive
}

func (a *App) underDailyLimit() bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.rolloverLocked(time.Now().UTC())
	return a.tradesToday < a.cfg.Strategy.DailyTradeLimit
}

func (a *App) bumpTrades(ctx context.Context) {
	a.opsMu.Lock()
	now := time.Now().UTC()
	a.rolloverLocked(now)
	a.tradesToday++
	count := a.tradesToday
	a.opsMu.Unlock()
	if err := state.SaveTradeCount(ctx, a.store, now, count); err != nil {
		a.log.Warn("failed to persist trade count", zap.Error(err))
	}
}

// rolloverLocked resets the daily counter when the UTC date changes. Callers
// hold opsMu.
func (a *App) rolloverLocked(now time.Time) {
	if a.tradesDay.Format("2006-01-02") != now.Format("2006-01-02") {
		a.tradesDay = now
		a.tradesToday = 0
	}
}

func (a *App) restoreRuntime(ctx context.Context) {
	now := time.Now().UTC()
	count, err := state.LoadTradeCount(ctx, a.store, now)
	if err != nil {
		a.log.Warn("failed to load trade count", zap.Error(err))
	} else if count > 0 {
		a.opsMu.Lock()
		a.tradesToday = count
		a.tradesDay = now
		a.opsMu.Unlock()
		a.log.Info("restored daily trade count", zap.Int("trades_today", count))
	}
	if snap, ok, err := state.LoadPositionSnapshot(ctx, a.store); err != nil {
		a.log.Warn("failed to load position snapshot", zap.Error(err))
	} else if ok {
		a.log.Info("last persisted position",
			zap.Float64("maker_qty", snap.MakerQty),
			zap.Float64("hedge_qty", snap.HedgeQty),
			zap.Float64("net_delta", snap.NetDelta),
			zap.Time("updated_at", snap.UpdatedAt),
		)
	}
}

func (a *App) savePosition(ctx context.Context) {
	pos := a.hedger.Position()
	a.opsMu.RLock()
	trades := a.tradesToday
	a.opsMu.RUnlock()
	err := state.SavePositionSnapshot(ctx, a.store, state.PositionSnapshot{
		Symbol:      a.cfg.Strategy.Symbol,
		MakerQty:    pos.Maker,
		HedgeQty:    pos.Hedge,
		NetDelta:    pos.NetDelta,
		TradesToday: trades,
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		a.log.Warn("failed to persist position snapshot", zap.Error(err))
	}
}

func (a *App) setLastAnalysis(analysis analyzer.Analysis) {
	a.opsMu.Lock()
	a.lastAnalysis = analysis
	a.opsMu.Unlock()
}

func (a *App) notify(ctx context.Context, message string) {
	if a.alerts == nil {
		return
	}
	if err := a.alerts.Send(ctx, message); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}
}

func (a *App) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (a *App) sleepUntil(ctx context.Context, deadline time.Time) {
	a.sleep(ctx, time.Until(deadline))
}
