// Package analyzer turns the per-cycle pair of best-bid/ask snapshots into
// the volatility, correlation, regime, and liquidity signals that drive
// quoting and the circuit breaker.
package analyzer

import (
	"mm-hedge-bot/internal/config"
	"mm-hedge-bot/internal/venue"
)

type Tier string

const (
	TierThin   Tier = "THIN"
	TierNormal Tier = "NORMAL"
	TierDeep   Tier = "DEEP"
)

const (
	regimeRanging  = 1.0
	regimeTrending = 1.25
	regimeChoppy   = 1.5
)

type Analysis struct {
	VolatilityRatio  float64
	SpikeDetected    bool
	Correlation      float64
	RegimeMultiplier float64
	LiquidityTier    Tier
	Ready            bool
}

// Analyzer keeps bounded rolling mid-price histories for both venues. It is
// driven from the control loop only and needs no locking.
type Analyzer struct {
	cfg       config.AnalyzerConfig
	makerMids []float64
	hedgeMids []float64
}

func New(cfg config.AnalyzerConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Observe appends both mids to the rolling windows and recomputes the
// analysis. Until the minimum history is reached it returns the neutral
// analysis (ratio 1, correlation 1) so downstream components quote at base
// parameters instead of reacting to noise.
func (a *Analyzer) Observe(maker, hedge venue.BookSnapshot) Analysis {
	if mid := maker.Mid(); mid > 0 {
		a.makerMids = appendBounded(a.makerMids, mid, a.cfg.Window)
	}
	if mid := hedge.Mid(); mid > 0 {
		a.hedgeMids = appendBounded(a.hedgeMids, mid, a.cfg.Window)
	}

	analysis := Analysis{
		VolatilityRatio:  1,
		Correlation:      1,
		RegimeMultiplier: regimeRanging,
		LiquidityTier:    a.liquidityTier(maker),
	}
	if len(a.makerMids) < a.cfg.MinHistory || len(a.hedgeMids) < a.cfg.MinHistory {
		return analysis
	}
	analysis.Ready = true

	makerReturns := returns(a.makerMids)
	hedgeReturns := returns(a.hedgeMids)

	analysis.VolatilityRatio = a.volatilityRatio(makerReturns)
	analysis.SpikeDetected = analysis.VolatilityRatio >= a.cfg.SpikeMultiple
	analysis.Correlation = pearson(makerReturns, hedgeReturns)
	analysis.RegimeMultiplier = a.regimeMultiplier(makerReturns)
	return analysis
}

// volatilityRatio compares short-window return dispersion against the full
// window. A quiet long window with zero dispersion yields the neutral ratio.
func (a *Analyzer) volatilityRatio(rets []float64) float64 {
	if len(rets) < 2 {
		return 1
	}
	long := stddev(rets)
	if long == 0 {
		return 1
	}
	short := rets
	if len(rets) > a.cfg.ShortWindow {
		short = rets[len(rets)-a.cfg.ShortWindow:]
	}
	return stddev(short) / long
}

func (a *Analyzer) regimeMultiplier(rets []float64) float64 {
	eff := efficiency(rets)
	switch {
	case eff >= a.cfg.TrendEff:
		return regimeTrending
	case eff <= a.cfg.ChopEff:
		return regimeChoppy
	default:
		return regimeRanging
	}
}

func (a *Analyzer) liquidityTier(book venue.BookSnapshot) Tier {
	depth := book.BidQty
	if book.AskQty < depth {
		depth = book.AskQty
	}
	spread := book.SpreadBps()
	if (a.cfg.ThinDepth > 0 && depth < a.cfg.ThinDepth) || spread > a.cfg.WideSpreadBps {
		return TierThin
	}
	if a.cfg.ThinDepth > 0 && depth >= 4*a.cfg.ThinDepth && spread <= a.cfg.WideSpreadBps/2 {
		return TierDeep
	}
	return TierNormal
}

func appendBounded(buf []float64, v float64, capacity int) []float64 {
	buf = append(buf, v)
	if capacity > 0 && len(buf) > capacity {
		buf = buf[len(buf)-capacity:]
	}
	return buf
}
