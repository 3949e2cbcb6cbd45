package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log        LoggingConfig   `yaml:"log"`
	MakerVenue VenueConfig     `yaml:"maker_venue"`
	HedgeVenue VenueConfig     `yaml:"hedge_venue"`
	State      StateConfig     `yaml:"state"`
	Strategy   StrategyConfig  `yaml:"strategy"`
	Analyzer   AnalyzerConfig  `yaml:"analyzer"`
	Breaker    BreakerConfig   `yaml:"breaker"`
	Hedge      HedgeConfig     `yaml:"hedge"`
	Metrics    MetricsConfig   `yaml:"metrics"`
	Timescale  TimescaleConfig `yaml:"timescale"`
	Telegram   TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type VenueConfig struct {
	Name           string        `yaml:"name"`
	RESTURL        string        `yaml:"rest_url"`
	WSURL          string        `yaml:"ws_url"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxBookAge     time.Duration `yaml:"max_book_age"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type StrategyConfig struct {
	Symbol             string        `yaml:"symbol"`
	OrderQty           float64       `yaml:"order_qty"`
	TickSize           float64       `yaml:"tick_size"`
	BaseOffsetTicks    float64       `yaml:"base_offset_ticks"`
	MinOffsetTicks     float64       `yaml:"min_offset_ticks"`
	MaxOffsetTicks     float64       `yaml:"max_offset_ticks"`
	LiquidityStepTicks float64       `yaml:"liquidity_step_ticks"`
	VolOffsetSlope     float64       `yaml:"vol_offset_slope"`
	ReplaceTolTicks    float64       `yaml:"replace_tol_ticks"`
	LoopInterval       time.Duration `yaml:"loop_interval"`
	CycleBudget        time.Duration `yaml:"cycle_budget"`
	FetchBackoff       time.Duration `yaml:"fetch_backoff"`
	DailyTradeLimit    int           `yaml:"daily_trade_limit"`
	DeltaTolerance     float64       `yaml:"delta_tolerance"`
}

type AnalyzerConfig struct {
	Window        int     `yaml:"window"`
	ShortWindow   int     `yaml:"short_window"`
	MinHistory    int     `yaml:"min_history"`
	SpikeMultiple float64 `yaml:"spike_multiple"`
	TrendEff      float64 `yaml:"trend_efficiency"`
	ChopEff       float64 `yaml:"chop_efficiency"`
	ThinDepth     float64 `yaml:"thin_depth"`
	WideSpreadBps float64 `yaml:"wide_spread_bps"`
}

type BreakerConfig struct {
	VolRatioThreshold float64       `yaml:"vol_ratio_threshold"`
	CorrelationFloor  float64       `yaml:"correlation_floor"`
	MaxFailures       int           `yaml:"max_failures"`
	FailureWindow     time.Duration `yaml:"failure_window"`
	MaxConsecutive    int           `yaml:"max_consecutive_failures"`
	BaseCooldown      time.Duration `yaml:"base_cooldown"`
	MaxSeverity       float64       `yaml:"max_severity"`
}

type HedgeConfig struct {
	ConfirmTimeout   time.Duration `yaml:"confirm_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	PartialTolerance float64       `yaml:"partial_tolerance"`
	HistorySize      int           `yaml:"history_size"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	applyVenueDefaults(&cfg.MakerVenue, "maker")
	applyVenueDefaults(&cfg.HedgeVenue, "hedge")
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/mm-hedge-bot.db"
	}
	if cfg.Strategy.BaseOffsetTicks == 0 {
		cfg.Strategy.BaseOffsetTicks = 10
	}
	if cfg.Strategy.MinOffsetTicks == 0 {
		cfg.Strategy.MinOffsetTicks = 2
	}
	if cfg.Strategy.MaxOffsetTicks == 0 {
		cfg.Strategy.MaxOffsetTicks = 100
	}
	if cfg.Strategy.LiquidityStepTicks == 0 {
		cfg.Strategy.LiquidityStepTicks = 5
	}
	if cfg.Strategy.VolOffsetSlope == 0 {
		cfg.Strategy.VolOffsetSlope = 0.5
	}
	if cfg.Strategy.ReplaceTolTicks == 0 {
		cfg.Strategy.ReplaceTolTicks = 1
	}
	if cfg.Strategy.LoopInterval == 0 {
		cfg.Strategy.LoopInterval = 200 * time.Millisecond
	}
	if cfg.Strategy.CycleBudget == 0 {
		cfg.Strategy.CycleBudget = 500 * time.Millisecond
	}
	if cfg.Strategy.FetchBackoff == 0 {
		cfg.Strategy.FetchBackoff = 250 * time.Millisecond
	}
	if cfg.Strategy.DailyTradeLimit == 0 {
		cfg.Strategy.DailyTradeLimit = 200
	}
	if cfg.Strategy.DeltaTolerance == 0 {
		cfg.Strategy.DeltaTolerance = 1e-6
	}
	if cfg.Analyzer.Window == 0 {
		cfg.Analyzer.Window = 100
	}
	if cfg.Analyzer.ShortWindow == 0 {
		cfg.Analyzer.ShortWindow = 10
	}
	if cfg.Analyzer.MinHistory == 0 {
		cfg.Analyzer.MinHistory = 20
	}
	if cfg.Analyzer.SpikeMultiple == 0 {
		cfg.Analyzer.SpikeMultiple = 3
	}
	if cfg.Analyzer.TrendEff == 0 {
		cfg.Analyzer.TrendEff = 0.6
	}
	if cfg.Analyzer.ChopEff == 0 {
		cfg.Analyzer.ChopEff = 0.2
	}
	if cfg.Analyzer.WideSpreadBps == 0 {
		cfg.Analyzer.WideSpreadBps = 20
	}
	if cfg.Breaker.VolRatioThreshold == 0 {
		cfg.Breaker.VolRatioThreshold = 2.5
	}
	if cfg.Breaker.CorrelationFloor == 0 {
		cfg.Breaker.CorrelationFloor = 0.5
	}
	if cfg.Breaker.MaxFailures == 0 {
		cfg.Breaker.MaxFailures = 3
	}
	if cfg.Breaker.FailureWindow == 0 {
		cfg.Breaker.FailureWindow = 10 * time.Minute
	}
	if cfg.Breaker.MaxConsecutive == 0 {
		cfg.Breaker.MaxConsecutive = 2
	}
	if cfg.Breaker.BaseCooldown == 0 {
		cfg.Breaker.BaseCooldown = time.Minute
	}
	if cfg.Breaker.MaxSeverity == 0 {
		cfg.Breaker.MaxSeverity = 5
	}
	if cfg.Hedge.ConfirmTimeout == 0 {
		cfg.Hedge.ConfirmTimeout = 100 * time.Millisecond
	}
	if cfg.Hedge.PollInterval == 0 {
		cfg.Hedge.PollInterval = 10 * time.Millisecond
	}
	if cfg.Hedge.PartialTolerance == 0 {
		cfg.Hedge.PartialTolerance = 0.10
	}
	if cfg.Hedge.HistorySize == 0 {
		cfg.Hedge.HistorySize = 100
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
}

func applyVenueDefaults(v *VenueConfig, name string) {
	if v.Name == "" {
		v.Name = name
	}
	if v.Timeout == 0 {
		v.Timeout = 5 * time.Second
	}
	if v.ReconnectDelay == 0 {
		v.ReconnectDelay = 3 * time.Second
	}
	if v.PingInterval == 0 {
		v.PingInterval = 30 * time.Second
	}
	if v.MaxBookAge == 0 {
		v.MaxBookAge = 5 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Strategy.Symbol == "" {
		return errors.New("strategy.symbol is required")
	}
	if cfg.Strategy.OrderQty <= 0 {
		return errors.New("strategy.order_qty must be > 0")
	}
	if cfg.Strategy.TickSize <= 0 {
		return errors.New("strategy.tick_size must be > 0")
	}
	if cfg.Strategy.MinOffsetTicks > cfg.Strategy.MaxOffsetTicks {
		return errors.New("strategy.min_offset_ticks exceeds strategy.max_offset_ticks")
	}
	if cfg.Analyzer.ShortWindow >= cfg.Analyzer.Window {
		return errors.New("analyzer.short_window must be smaller than analyzer.window")
	}
	if cfg.Breaker.CorrelationFloor < -1 || cfg.Breaker.CorrelationFloor > 1 {
		return errors.New("breaker.correlation_floor must be in [-1, 1]")
	}
	if cfg.Hedge.PollInterval >= cfg.Hedge.ConfirmTimeout {
		return errors.New("hedge.poll_interval must be smaller than hedge.confirm_timeout")
	}
	if cfg.Hedge.PartialTolerance < 0 || cfg.Hedge.PartialTolerance > 1 {
		return errors.New("hedge.partial_tolerance must be in [0, 1]")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
