package app

import (
	"time"

	"mm-hedge-bot/internal/analyzer"
	"mm-hedge-bot/internal/breaker"
	"mm-hedge-bot/internal/hedge"
	"mm-hedge-bot/internal/timescale"
	"mm-hedge-bot/internal/venue"
)

func (a *App) recordCycle(analysis analyzer.Analysis, elapsed time.Duration) {
	pos := a.hedger.Position()
	a.opsMu.RLock()
	trades := a.tradesToday
	a.opsMu.RUnlock()
	a.timescale.EnqueueCycle(timescale.CycleSnapshot{
		Time:          time.Now().UTC(),
		Symbol:        a.cfg.Strategy.Symbol,
		BreakerStatus: string(a.breaker.Snapshot().Status),
		VolRatio:      analysis.VolatilityRatio,
		SpikeDetected: analysis.SpikeDetected,
		Correlation:   analysis.Correlation,
		RegimeMult:    analysis.RegimeMultiplier,
		LiquidityTier: string(analysis.LiquidityTier),
		MakerPosition: pos.Maker,
		HedgePosition: pos.Hedge,
		NetDelta:      pos.NetDelta,
		TradesToday:   trades,
		ActiveOrders:  len(a.maker.ActiveOrders()),
		CycleMS:       float64(elapsed.Milliseconds()),
	})
}

func (a *App) recordHedge(result hedge.Result) {
	a.timescale.EnqueueHedge(timescale.HedgeRecord{
		Time:        result.Time,
		Symbol:      a.cfg.Strategy.Symbol,
		Status:      string(result.Status),
		Success:     result.Success,
		Price:       result.HedgePrice,
		Qty:         result.HedgeQty,
		SlippageBps: result.SlippageBps,
		ExecMS:      float64(result.ExecutionTime.Milliseconds()),
		Manual:      result.RequiresManualIntervention,
	})
}

// Status is the operator-facing view of the running strategy.
type Status struct {
	TradingActive   bool
	HaltReason      string
	TradesToday     int
	DailyTradeLimit int
	Breaker         breaker.State
	Analysis        analyzer.Analysis
	Position        hedge.Position
	Hedge           hedge.Stats
	ActiveOrders    []venue.Order
}

func (a *App) Status() Status {
	a.opsMu.RLock()
	active := a.tradingActive
	reason := a.haltReason
	trades := a.tradesToday
	analysis := a.lastAnalysis
	a.opsMu.RUnlock()
	return Status{
		TradingActive:   active,
		HaltReason:      reason,
		TradesToday:     trades,
		DailyTradeLimit: a.cfg.Strategy.DailyTradeLimit,
		Breaker:         a.breaker.Snapshot(),
		Analysis:        analysis,
		Position:        a.hedger.Position(),
		Hedge:           a.hedger.Stats(),
		ActiveOrders:    a.maker.ActiveOrders(),
	}
}
