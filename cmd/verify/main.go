// Command verify is a preflight check: it loads the config, pulls one order
// book snapshot from each venue over REST, and prints the limit prices the
// strategy would quote right now. Run it before starting the bot against a
// new venue pair.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"mm-hedge-bot/internal/analyzer"
	"mm-hedge-bot/internal/config"
	"mm-hedge-bot/internal/logging"
	"mm-hedge-bot/internal/offset"
	"mm-hedge-bot/internal/venue"
	"mm-hedge-bot/internal/venue/feed"
	"mm-hedge-bot/internal/venue/rest"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	timeout := flag.Duration("timeout", 10*time.Second, "per-venue request timeout")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	makerBook, err := fetchBook(ctx, cfg.MakerVenue, cfg.Strategy.Symbol, log)
	if err != nil {
		fatal(fmt.Errorf("maker venue %s: %w", cfg.MakerVenue.Name, err))
	}
	hedgeBook, err := fetchBook(ctx, cfg.HedgeVenue, cfg.Strategy.Symbol, log)
	if err != nil {
		fatal(fmt.Errorf("hedge venue %s: %w", cfg.HedgeVenue.Name, err))
	}

	printBook(cfg.MakerVenue.Name, makerBook)
	printBook(cfg.HedgeVenue.Name, hedgeBook)

	// With no price history the analyzer is neutral, so the quotes below are
	// the base-offset quotes.
	neutral := analyzer.New(cfg.Analyzer).Observe(makerBook, hedgeBook)
	buy := offset.Calc(neutral, makerBook, venue.SideBuy, cfg.Strategy)
	sell := offset.Calc(neutral, makerBook, venue.SideSell, cfg.Strategy)
	fmt.Printf("quote preview: buy=%.8f (offset %.1f ticks) sell=%.8f (offset %.1f ticks) qty=%.6f\n",
		buy.LimitPrice, buy.OffsetTicks, sell.LimitPrice, sell.OffsetTicks, cfg.Strategy.OrderQty)
}

// fetchBook goes straight to REST: a feed without a websocket URL serves
// snapshots from the HTTP book endpoint.
func fetchBook(ctx context.Context, vc config.VenueConfig, symbol string, log *zap.Logger) (venue.BookSnapshot, error) {
	client := rest.New(vc.RESTURL, os.Getenv(vc.APIKeyEnv), vc.Timeout, log)
	vc.WSURL = ""
	return feed.New(vc, client, log).BestBidAsk(ctx, symbol)
}

func printBook(name string, book venue.BookSnapshot) {
	fmt.Printf("%s: bid=%.8f (%.6f) ask=%.8f (%.6f) spread=%.2fbps\n",
		name, book.BidPrice, book.BidQty, book.AskPrice, book.AskQty, book.SpreadBps())
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
