package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
strategy:
  symbol: BTC-USD
  order_qty: 0.01
  tick_size: 0.5
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected default log level info, got %s", cfg.Log.Level)
	}
	if cfg.Strategy.LoopInterval != 200*time.Millisecond {
		t.Fatalf("expected default loop interval, got %s", cfg.Strategy.LoopInterval)
	}
	if cfg.Breaker.VolRatioThreshold != 2.5 {
		t.Fatalf("expected default volatility threshold, got %f", cfg.Breaker.VolRatioThreshold)
	}
	if cfg.Hedge.ConfirmTimeout != 100*time.Millisecond {
		t.Fatalf("expected default confirm timeout, got %s", cfg.Hedge.ConfirmTimeout)
	}
	if cfg.MakerVenue.Name != "maker" || cfg.HedgeVenue.Name != "hedge" {
		t.Fatalf("expected default venue names, got %q / %q", cfg.MakerVenue.Name, cfg.HedgeVenue.Name)
	}
	if cfg.State.SQLitePath == "" {
		t.Fatal("expected a default sqlite path")
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
strategy:
  symbol: ETH-USD
  order_qty: 0.5
  tick_size: 0.05
  loop_interval: 1s
  daily_trade_limit: 50
breaker:
  vol_ratio_threshold: 3.5
  base_cooldown: 2m
hedge:
  confirm_timeout: 250ms
  poll_interval: 25ms
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Strategy.Symbol != "ETH-USD" || cfg.Strategy.LoopInterval != time.Second {
		t.Fatalf("strategy overrides not applied: %+v", cfg.Strategy)
	}
	if cfg.Strategy.DailyTradeLimit != 50 {
		t.Fatalf("expected trade limit 50, got %d", cfg.Strategy.DailyTradeLimit)
	}
	if cfg.Breaker.VolRatioThreshold != 3.5 || cfg.Breaker.BaseCooldown != 2*time.Minute {
		t.Fatalf("breaker overrides not applied: %+v", cfg.Breaker)
	}
	if cfg.Hedge.ConfirmTimeout != 250*time.Millisecond {
		t.Fatalf("hedge overrides not applied: %+v", cfg.Hedge)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing symbol", `
strategy:
  order_qty: 1
  tick_size: 0.5
`},
		{"zero qty", `
strategy:
  symbol: BTC-USD
  tick_size: 0.5
`},
		{"zero tick", `
strategy:
  symbol: BTC-USD
  order_qty: 1
`},
		{"poll exceeds confirm", `
strategy:
  symbol: BTC-USD
  order_qty: 1
  tick_size: 0.5
hedge:
  confirm_timeout: 10ms
  poll_interval: 20ms
`},
		{"timescale without dsn", `
strategy:
  symbol: BTC-USD
  order_qty: 1
  tick_size: 0.5
timescale:
  enabled: true
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
