package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"mm-hedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// CycleSnapshot is one control-loop cycle's worth of observability data.
type CycleSnapshot struct {
	Time          time.Time
	Symbol        string
	BreakerStatus string
	VolRatio      float64
	SpikeDetected bool
	Correlation   float64
	RegimeMult    float64
	LiquidityTier string
	MakerPosition float64
	HedgePosition float64
	NetDelta      float64
	TradesToday   int
	ActiveOrders  int
	CycleMS       float64
}

type HedgeRecord struct {
	Time        time.Time
	Symbol      string
	Status      string
	Success     bool
	Price       float64
	Qty         float64
	SlippageBps float64
	ExecMS      float64
	Manual      bool
}

// Writer streams records to TimescaleDB off the hot path. Full queues drop
// rather than block the control loop.
type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	cycles     chan CycleSnapshot
	hedges     chan HedgeRecord
	started    atomic.Bool
	dropCycle  atomic.Uint64
	dropHedge  atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		cycles: make(chan CycleSnapshot, queueSize),
		hedges: make(chan HedgeRecord, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueCycle(snap CycleSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.cycles <- snap:
	default:
		if w.dropCycle.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale cycle queue full")
		}
	}
}

func (w *Writer) EnqueueHedge(rec HedgeRecord) {
	if w == nil {
		return
	}
	select {
	case w.hedges <- rec:
	default:
		if w.dropHedge.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale hedge queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.cycles:
			w.writeCycle(ctx, snap)
		case rec := <-w.hedges:
			w.writeHedge(ctx, rec)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		breaker_status TEXT NOT NULL,
		vol_ratio DOUBLE PRECISION NOT NULL,
		spike_detected BOOLEAN NOT NULL,
		correlation DOUBLE PRECISION NOT NULL,
		regime_mult DOUBLE PRECISION NOT NULL,
		liquidity_tier TEXT NOT NULL,
		maker_position DOUBLE PRECISION NOT NULL,
		hedge_position DOUBLE PRECISION NOT NULL,
		net_delta DOUBLE PRECISION NOT NULL,
		trades_today INTEGER NOT NULL,
		active_orders INTEGER NOT NULL,
		cycle_ms DOUBLE PRECISION NOT NULL
	)`, w.table("cycle_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		status TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		qty DOUBLE PRECISION NOT NULL,
		slippage_bps DOUBLE PRECISION NOT NULL,
		exec_ms DOUBLE PRECISION NOT NULL,
		manual_intervention BOOLEAN NOT NULL
	)`, w.table("hedge_results"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, table := range []string{"cycle_snapshots", "hedge_results"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(table))); err != nil && w.log != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", table), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeCycle(ctx context.Context, snap CycleSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, breaker_status, vol_ratio, spike_detected, correlation, regime_mult,
		liquidity_tier, maker_position, hedge_position, net_delta, trades_today, active_orders, cycle_ms
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`, w.table("cycle_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time, snap.Symbol, snap.BreakerStatus, snap.VolRatio, snap.SpikeDetected,
		snap.Correlation, snap.RegimeMult, snap.LiquidityTier, snap.MakerPosition,
		snap.HedgePosition, snap.NetDelta, snap.TradesToday, snap.ActiveOrders, snap.CycleMS,
	); err != nil && w.log != nil {
		w.log.Warn("timescale cycle insert failed", zap.Error(err))
	}
}

func (w *Writer) writeHedge(ctx context.Context, rec HedgeRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, status, success, price, qty, slippage_bps, exec_ms, manual_intervention
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, w.table("hedge_results"))
	if _, err := w.db.ExecContext(ctx, query,
		rec.Time, rec.Symbol, rec.Status, rec.Success, rec.Price, rec.Qty,
		rec.SlippageBps, rec.ExecMS, rec.Manual,
	); err != nil && w.log != nil {
		w.log.Warn("timescale hedge insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
