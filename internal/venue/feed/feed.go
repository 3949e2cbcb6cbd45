// Package feed implements venue.MarketData on top of a venue's book-ticker
// websocket stream, with a REST snapshot fallback for cold starts.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"mm-hedge-bot/internal/config"
	"mm-hedge-bot/internal/venue"
	"mm-hedge-bot/internal/venue/rest"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

var ErrBookStale = errors.New("book snapshot stale")

type Feed struct {
	name           string
	wsURL          string
	rest           *rest.Client
	reconnectDelay time.Duration
	pingInterval   time.Duration
	maxBookAge     time.Duration
	log            *zap.Logger

	mu    sync.RWMutex
	conn  *websocket.Conn
	subs  []any
	books map[string]venue.BookSnapshot
}

func New(cfg config.VenueConfig, restClient *rest.Client, log *zap.Logger) *Feed {
	return &Feed{
		name:           cfg.Name,
		wsURL:          cfg.WSURL,
		rest:           restClient,
		reconnectDelay: cfg.ReconnectDelay,
		pingInterval:   cfg.PingInterval,
		maxBookAge:     cfg.MaxBookAge,
		log:            log,
		books:          make(map[string]venue.BookSnapshot),
	}
}

// Start connects, registers the symbol's book-ticker subscription, and
// launches the read loop. The loop owns every subscribe send, initial and
// after reconnect, so a subscription is written exactly once per connection.
func (f *Feed) Start(ctx context.Context, symbol string) error {
	if f.wsURL == "" {
		return nil
	}
	if err := f.connect(ctx); err != nil {
		return err
	}
	f.addSub(map[string]any{
		"method":  "subscribe",
		"channel": "bookTicker",
		"symbol":  symbol,
	})
	go f.run(ctx)
	return nil
}

func (f *Feed) addSub(sub any) {
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
}

// BestBidAsk returns the cached ticker when it is fresh, otherwise fetches a
// snapshot over REST. A stale cache with no REST client is an error: the
// control loop must skip the cycle rather than quote against old prices.
func (f *Feed) BestBidAsk(ctx context.Context, symbol string) (venue.BookSnapshot, error) {
	f.mu.RLock()
	snap, ok := f.books[symbol]
	f.mu.RUnlock()
	if ok && (f.maxBookAge <= 0 || time.Since(snap.Time) <= f.maxBookAge) {
		return snap, nil
	}
	if f.rest == nil {
		if ok {
			return venue.BookSnapshot{}, fmt.Errorf("%s %s: %w", f.name, symbol, ErrBookStale)
		}
		return venue.BookSnapshot{}, fmt.Errorf("%s %s: no book snapshot", f.name, symbol)
	}
	var payload bookPayload
	if err := f.rest.Get(ctx, "/v1/book?symbol="+url.QueryEscape(symbol), &payload); err != nil {
		return venue.BookSnapshot{}, err
	}
	snap, err := payload.snapshot()
	if err != nil {
		return venue.BookSnapshot{}, err
	}
	f.store(snap)
	return snap, nil
}

func (f *Feed) connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	f.conn = conn
	return nil
}

func (f *Feed) run(ctx context.Context) {
	for {
		if err := f.ensureConnected(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.log.Warn("feed connect failed", zap.String("venue", f.name), zap.Error(err))
		} else {
			pingCtx, cancel := context.WithCancel(ctx)
			pingDone := make(chan struct{})
			go func() {
				defer close(pingDone)
				f.pingLoop(pingCtx)
			}()
			err := f.readLoop(ctx)
			cancel()
			<-pingDone
			if ctx.Err() != nil {
				return
			}
			f.log.Warn("feed read loop ended", zap.String("venue", f.name), zap.Error(err))
		}
		f.resetConn()
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *Feed) ensureConnected(ctx context.Context) error {
	if err := f.connect(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	conn := f.conn
	subs := append([]any(nil), f.subs...)
	f.mu.Unlock()
	for _, sub := range subs {
		if err := writeJSON(ctx, conn, sub); err != nil {
			return err
		}
	}
	return nil
}

func (f *Feed) readLoop(ctx context.Context) error {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		f.handleMessage(data)
	}
}

func (f *Feed) handleMessage(data []byte) {
	snap, ok, err := parseBookTicker(data)
	if err != nil {
		f.log.Debug("feed decode error", zap.String("venue", f.name), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	f.store(snap)
}

func (f *Feed) store(snap venue.BookSnapshot) {
	f.mu.Lock()
	f.books[snap.Symbol] = snap
	f.mu.Unlock()
}

func (f *Feed) pingLoop(ctx context.Context) {
	f.mu.RLock()
	conn := f.conn
	interval := f.pingInterval
	f.mu.RUnlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, map[string]any{"method": "ping"}); err != nil {
				return
			}
		}
	}
}

func (f *Feed) resetConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close(websocket.StatusNormalClosure, "reset")
		f.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
