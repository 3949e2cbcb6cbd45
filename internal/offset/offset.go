// Package offset prices one side of the maker quote from the current
// analysis. Calc is a pure function: no state survives between cycles.
package offset

import (
	"github.com/shopspring/decimal"

	"mm-hedge-bot/internal/analyzer"
	"mm-hedge-bot/internal/config"
	"mm-hedge-bot/internal/venue"
)

type Result struct {
	Side        venue.Side
	OffsetTicks float64
	LimitPrice  float64
}

// Calc widens the base offset with the volatility and regime multipliers,
// clamps it, and adds one liquidity step when the book is thin. The offset is
// monotone non-decreasing in the volatility ratio for a fixed regime and
// tier.
func Calc(a analyzer.Analysis, book venue.BookSnapshot, side venue.Side, cfg config.StrategyConfig) Result {
	ticks := cfg.BaseOffsetTicks * volMultiplier(a.VolatilityRatio, cfg.VolOffsetSlope) * a.RegimeMultiplier
	if ticks < cfg.MinOffsetTicks {
		ticks = cfg.MinOffsetTicks
	}
	if ticks > cfg.MaxOffsetTicks {
		ticks = cfg.MaxOffsetTicks
	}
	// Rest one step further from a thin book to cut adverse selection.
	if a.LiquidityTier == analyzer.TierThin {
		ticks += cfg.LiquidityStepTicks
	}
	return Result{
		Side:        side,
		OffsetTicks: ticks,
		LimitPrice:  limitPrice(book, side, ticks, cfg.TickSize),
	}
}

// volMultiplier is 1 at or below the neutral ratio and grows linearly above
// it, so calmer-than-usual markets never tighten below the base offset.
func volMultiplier(ratio, slope float64) float64 {
	if ratio <= 1 {
		return 1
	}
	return 1 + (ratio-1)*slope
}

// limitPrice offsets from the touch away from the market and snaps to the
// tick grid in the safe direction: buys round down, sells round up.
func limitPrice(book venue.BookSnapshot, side venue.Side, ticks, tickSize float64) float64 {
	tick := decimal.NewFromFloat(tickSize)
	offset := decimal.NewFromFloat(ticks).Mul(tick)
	var raw decimal.Decimal
	if side == venue.SideBuy {
		raw = decimal.NewFromFloat(book.BidPrice).Sub(offset)
	} else {
		raw = decimal.NewFromFloat(book.AskPrice).Add(offset)
	}
	if raw.Sign() <= 0 || tick.Sign() <= 0 {
		return 0
	}
	steps := raw.Div(tick)
	if side == venue.SideBuy {
		steps = steps.Floor()
	} else {
		steps = steps.Ceil()
	}
	price, _ := steps.Mul(tick).Float64()
	return price
}
