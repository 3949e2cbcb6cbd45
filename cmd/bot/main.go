package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mm-hedge-bot/internal/alerts"
	"mm-hedge-bot/internal/app"
	"mm-hedge-bot/internal/config"
	"mm-hedge-bot/internal/logging"
	"mm-hedge-bot/internal/metrics"
	"mm-hedge-bot/internal/state/sqlite"
	"mm-hedge-bot/internal/timescale"
	"mm-hedge-bot/internal/venue/feed"
	"mm-hedge-bot/internal/venue/rest"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("config loaded", zap.String("path", *configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	makerREST := rest.New(cfg.MakerVenue.RESTURL, os.Getenv(cfg.MakerVenue.APIKeyEnv), cfg.MakerVenue.Timeout, log)
	hedgeREST := rest.New(cfg.HedgeVenue.RESTURL, os.Getenv(cfg.HedgeVenue.APIKeyEnv), cfg.HedgeVenue.Timeout, log)

	makerFeed := feed.New(cfg.MakerVenue, makerREST, log)
	hedgeFeed := feed.New(cfg.HedgeVenue, hedgeREST, log)
	if err := makerFeed.Start(ctx, cfg.Strategy.Symbol); err != nil {
		log.Warn("maker feed start failed, falling back to REST snapshots", zap.Error(err))
	}
	if err := hedgeFeed.Start(ctx, cfg.Strategy.Symbol); err != nil {
		log.Warn("hedge feed start failed, falling back to REST snapshots", zap.Error(err))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		log.Error("failed to create state directory", zap.Error(err))
		os.Exit(1)
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		log.Error("failed to open state store", zap.Error(err))
		os.Exit(1)
	}

	m := metrics.NewNoop()
	if cfg.Metrics.EnabledValue() {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           prom.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server failed", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("metrics listening", zap.String("addr", cfg.Metrics.Listen))
	}

	var writer *timescale.Writer
	if cfg.Timescale.Enabled {
		writer, err = timescale.New(cfg.Timescale, log)
		if err != nil {
			log.Warn("timescale disabled: connect failed", zap.Error(err))
			writer = nil
		} else {
			defer func() { _ = writer.Close() }()
		}
	}

	var tg *alerts.Telegram
	if cfg.Telegram.Enabled {
		tg = alerts.NewTelegram(cfg.Telegram, log)
	}

	application, err := app.New(cfg, log, app.Deps{
		MakerData:    makerFeed,
		HedgeData:    hedgeFeed,
		MakerGateway: rest.NewGateway(makerREST),
		HedgeGateway: rest.NewGateway(hedgeREST),
		Store:        store,
		Metrics:      m,
		Timescale:    writer,
		Alerts:       tg,
	})
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	log.Info("app initialized",
		zap.String("maker_venue", cfg.MakerVenue.Name),
		zap.String("hedge_venue", cfg.HedgeVenue.Name),
		zap.String("symbol", cfg.Strategy.Symbol),
	)

	if err := application.Run(ctx); err != nil && err != context.Canceled {
		log.Error("app terminated", zap.Error(err))
		os.Exit(1)
	}
}
