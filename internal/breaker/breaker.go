// Package breaker owns the safety state machine that halts quoting when
// market conditions or hedge reliability degrade.
package breaker

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"mm-hedge-bot/internal/analyzer"
	"mm-hedge-bot/internal/config"

	"go.uber.org/zap"
)

type Status string

const (
	StatusNormal    Status = "NORMAL"
	StatusTriggered Status = "TRIGGERED"
	StatusCooldown  Status = "COOLDOWN"
)

type TriggerKind string

const (
	TriggerVolatility          TriggerKind = "VOLATILITY"
	TriggerCorrelation         TriggerKind = "CORRELATION"
	TriggerFailureRate         TriggerKind = "HEDGE_FAILURE_RATE"
	TriggerConsecutiveFailures TriggerKind = "CONSECUTIVE_HEDGE_FAILURES"
)

type State struct {
	Status        Status
	Triggers      []TriggerKind
	Severity      float64
	ActivatedAt   time.Time
	CooldownUntil time.Time
	Reason        string
}

// Decision is the per-cycle verdict. Tripped is set only on the cycle the
// breaker fires; the orchestrator must cancel all resting orders and then
// call ConfirmCancelled to move the machine into cooldown.
type Decision struct {
	Allow   bool
	Tripped bool
	State   State
}

type trigger struct {
	kind TriggerKind
	// excess is how far past its threshold the trigger is, >= 1 by
	// construction. Severity sums excesses so simultaneous triggers always
	// cool down at least as long as any one of them alone.
	excess float64
	reason string
}

type Breaker struct {
	cfg config.BreakerConfig
	log *zap.Logger
	now func() time.Time

	mu             sync.Mutex
	state          State
	failures       []time.Time
	consecCritical int
}

func New(cfg config.BreakerConfig, log *zap.Logger) *Breaker {
	return &Breaker{
		cfg:   cfg,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		state: State{Status: StatusNormal},
	}
}

// Evaluate advances the state machine for this cycle.
func (b *Breaker) Evaluate(a analyzer.Analysis) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	switch b.state.Status {
	case StatusTriggered:
		// Cancel-all has not been confirmed yet; hold trading.
		return Decision{Allow: false, State: b.state}
	case StatusCooldown:
		if now.Before(b.state.CooldownUntil) {
			return Decision{Allow: false, State: b.state}
		}
		// Cooldown elapsed: re-enter TRIGGERED if conditions persist,
		// otherwise recover.
		if triggers := b.activeTriggers(a, now); len(triggers) > 0 {
			return b.trip(triggers, now)
		}
		b.log.Info("circuit breaker recovered", zap.String("reason", b.state.Reason))
		b.state = State{Status: StatusNormal}
		return Decision{Allow: true, State: b.state}
	}

	if triggers := b.activeTriggers(a, now); len(triggers) > 0 {
		return b.trip(triggers, now)
	}
	return Decision{Allow: true, State: b.state}
}

// ConfirmCancelled transitions TRIGGERED to COOLDOWN once the orchestrator
// has cancelled every resting order.
func (b *Breaker) ConfirmCancelled() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Status != StatusTriggered {
		return
	}
	b.state.Status = StatusCooldown
}

// RegisterHedgeFailure is invoked by the hedge executor whenever a hedge
// resolves with manual intervention required. It biases future evaluation
// even absent a fresh volatility signal.
func (b *Breaker) RegisterHedgeFailure(critical bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.failures = append(b.failures, now)
	b.pruneFailures(now)
	if critical {
		b.consecCritical++
	} else {
		b.consecCritical = 0
	}
}

// RegisterHedgeSuccess resets the consecutive-failure streak.
func (b *Breaker) RegisterHedgeSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecCritical = 0
}

// ForceReset is the operator escape hatch. Nothing calls it automatically.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = State{Status: StatusNormal}
	b.failures = nil
	b.consecCritical = 0
	b.log.Warn("circuit breaker force reset")
}

func (b *Breaker) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.state
	state.Triggers = append([]TriggerKind(nil), b.state.Triggers...)
	return state
}

func (b *Breaker) trip(triggers []trigger, now time.Time) Decision {
	severity := 0.0
	kinds := make([]TriggerKind, 0, len(triggers))
	reasons := make([]string, 0, len(triggers))
	for _, t := range triggers {
		severity += t.excess
		kinds = append(kinds, t.kind)
		reasons = append(reasons, t.reason)
	}
	if severity > b.cfg.MaxSeverity {
		severity = b.cfg.MaxSeverity
	}
	cooldown := time.Duration(float64(b.cfg.BaseCooldown) * severity)
	b.state = State{
		Status:        StatusTriggered,
		Triggers:      kinds,
		Severity:      severity,
		ActivatedAt:   now,
		CooldownUntil: now.Add(cooldown),
		Reason:        strings.Join(reasons, "; "),
	}
	b.log.Warn("circuit breaker triggered",
		zap.Any("triggers", kinds),
		zap.Float64("severity", severity),
		zap.Duration("cooldown", cooldown),
		zap.String("reason", b.state.Reason),
	)
	return Decision{Allow: false, Tripped: true, State: b.state}
}

func (b *Breaker) activeTriggers(a analyzer.Analysis, now time.Time) []trigger {
	var triggers []trigger
	if a.Ready && b.cfg.VolRatioThreshold > 0 && a.VolatilityRatio > b.cfg.VolRatioThreshold {
		triggers = append(triggers, trigger{
			kind:   TriggerVolatility,
			excess: a.VolatilityRatio / b.cfg.VolRatioThreshold,
			reason: fmt.Sprintf("volatility ratio %.2f above %.2f", a.VolatilityRatio, b.cfg.VolRatioThreshold),
		})
	}
	if a.Ready && a.Correlation < b.cfg.CorrelationFloor {
		excess := 1.0
		if b.cfg.CorrelationFloor != 0 {
			excess = 1 + (b.cfg.CorrelationFloor-a.Correlation)/math.Abs(b.cfg.CorrelationFloor)
		}
		triggers = append(triggers, trigger{
			kind:   TriggerCorrelation,
			excess: excess,
			reason: fmt.Sprintf("correlation %.2f below %.2f", a.Correlation, b.cfg.CorrelationFloor),
		})
	}
	b.pruneFailures(now)
	if b.cfg.MaxFailures > 0 && len(b.failures) >= b.cfg.MaxFailures {
		triggers = append(triggers, trigger{
			kind:   TriggerFailureRate,
			excess: float64(len(b.failures)) / float64(b.cfg.MaxFailures),
			reason: fmt.Sprintf("%d hedge failures within %s", len(b.failures), b.cfg.FailureWindow),
		})
	}
	if b.cfg.MaxConsecutive > 0 && b.consecCritical >= b.cfg.MaxConsecutive {
		triggers = append(triggers, trigger{
			kind:   TriggerConsecutiveFailures,
			excess: float64(b.consecCritical) / float64(b.cfg.MaxConsecutive),
			reason: fmt.Sprintf("%d consecutive critical hedge failures", b.consecCritical),
		})
	}
	return triggers
}

func (b *Breaker) pruneFailures(now time.Time) {
	if b.cfg.FailureWindow <= 0 {
		return
	}
	cutoff := now.Add(-b.cfg.FailureWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}
