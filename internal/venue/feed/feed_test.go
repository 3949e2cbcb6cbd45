package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mm-hedge-bot/internal/config"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// wsRecorder accepts one websocket connection at a time and forwards every
// text frame it reads.
func wsRecorder(t *testing.T, msgs chan<- string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			msgs <- string(data)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestStartSubscribesOncePerConnection(t *testing.T) {
	msgs := make(chan string, 16)
	server := wsRecorder(t, msgs)

	cfg := config.VenueConfig{
		Name:           "maker",
		WSURL:          "ws" + strings.TrimPrefix(server.URL, "http"),
		ReconnectDelay: time.Hour,
	}
	f := New(cfg, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.Start(ctx, "BTC-USD"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var subscribes int
	deadline := time.After(300 * time.Millisecond)
	for done := false; !done; {
		select {
		case msg := <-msgs:
			if strings.Contains(msg, `"subscribe"`) {
				subscribes++
			}
		case <-deadline:
			done = true
		}
	}
	if subscribes != 1 {
		t.Fatalf("expected exactly one subscribe on a cold start, got %d", subscribes)
	}
}
