package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mm-hedge-bot/internal/alerts"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID      int64     `json:"update_id"`
	Time          time.Time `json:"time"`
	Action        string    `json:"action"`
	Command       string    `json:"command"`
	UserID        int64     `json:"user_id"`
	Username      string    `json:"username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	TradingBefore bool      `json:"trading_before"`
	TradingAfter  bool      `json:"trading_after"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(strings.TrimPrefix(fields[0], "/")), true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(), nil
	case "stop":
		before := a.IsTradingActive()
		a.ForceEmergencyStop(ctx)
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:      meta.UpdateID,
			Time:          time.Now().UTC(),
			Action:        "stop",
			Command:       meta.Raw,
			UserID:        meta.UserID,
			Username:      meta.Username,
			ChatID:        meta.ChatID,
			TradingBefore: before,
			TradingAfter:  false,
		})
		if before {
			return "trading stopped, resting orders cancelled", nil
		}
		return "trading already stopped", nil
	case "resume":
		before := a.IsTradingActive()
		a.ResumeTrading()
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:      meta.UpdateID,
			Time:          time.Now().UTC(),
			Action:        "resume",
			Command:       meta.Raw,
			UserID:        meta.UserID,
			Username:      meta.Username,
			ChatID:        meta.ChatID,
			TradingBefore: before,
			TradingAfter:  true,
		})
		if !before {
			return "trading resumed", nil
		}
		return "trading already active", nil
	case "flatten":
		before := a.IsTradingActive()
		result, err := a.hedger.EmergencyFlatten(ctx)
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:      meta.UpdateID,
			Time:          time.Now().UTC(),
			Action:        "flatten",
			Command:       meta.Raw,
			UserID:        meta.UserID,
			Username:      meta.Username,
			ChatID:        meta.ChatID,
			TradingBefore: before,
			TradingAfter:  a.IsTradingActive(),
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("flatten %s: qty=%.6f price=%.6f", result.Status, result.HedgeQty, result.HedgePrice), nil
	case "help":
		return operatorHelpText(), nil
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) operatorStatus() string {
	st := a.Status()
	cooldown := "n/a"
	if !st.Breaker.CooldownUntil.IsZero() {
		cooldown = st.Breaker.CooldownUntil.UTC().Format(time.RFC3339)
	}
	return strings.Join([]string{
		fmt.Sprintf("trading_active: %t", st.TradingActive),
		fmt.Sprintf("halt_reason: %s", emptyDash(st.HaltReason)),
		fmt.Sprintf("breaker: %s (severity %.2f, cooldown_until %s)", st.Breaker.Status, st.Breaker.Severity, cooldown),
		fmt.Sprintf("vol_ratio: %.4f correlation: %.4f regime: %.2f liquidity: %s", st.Analysis.VolatilityRatio, st.Analysis.Correlation, st.Analysis.RegimeMultiplier, st.Analysis.LiquidityTier),
		fmt.Sprintf("position: maker=%.6f hedge=%.6f net_delta=%.6f", st.Position.Maker, st.Position.Hedge, st.Position.NetDelta),
		fmt.Sprintf("hedges: attempts=%d successes=%d failures=%d avg_exec=%s", st.Hedge.Attempts, st.Hedge.Successes, st.Hedge.Failures, st.Hedge.AvgExecTime),
		fmt.Sprintf("trades_today: %d/%d", st.TradesToday, st.DailyTradeLimit),
		fmt.Sprintf("active_orders: %d", len(st.ActiveOrders)),
	}, "\n")
}

func emptyDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - current strategy status",
		"/stop - halt trading and cancel resting orders",
		"/resume - clear halt and breaker state, resume trading",
		"/flatten - market-flatten any residual net delta",
	}, "\n")
}

func (a *App) logOperatorError(err error) {
	if a.log == nil {
		return
	}
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
