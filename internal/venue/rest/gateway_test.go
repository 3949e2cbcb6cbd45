package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mm-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := New(server.URL, "test-key", 2*time.Second, zap.NewNop())
	return NewGateway(client), server
}

func TestPlaceOrder(t *testing.T) {
	var gotAuth string
	var gotBody placeRequest
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(orderPayload{
			OrderID:       "o-1",
			ClientOrderID: gotBody.ClientOrderID,
			Symbol:        gotBody.Symbol,
			Side:          gotBody.Side,
			Price:         gotBody.Price,
			Qty:           gotBody.Qty,
			Status:        "ACTIVE",
			UpdatedAtMS:   1756500000000,
		})
	})

	order, err := gw.PlaceOrder(context.Background(), venue.OrderRequest{
		Symbol:        "BTC-USD",
		Side:          venue.SideBuy,
		Type:          venue.TypeLimit,
		Qty:           0.5,
		Price:         99.5,
		Tif:           venue.TifGtc,
		ClientOrderID: "cl-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody.Side != "BUY" || gotBody.Type != "LIMIT" || gotBody.Tif != "GTC" {
		t.Fatalf("unexpected wire request: %+v", gotBody)
	}
	if order.OrderID != "o-1" || order.Status != venue.StatusActive {
		t.Fatalf("unexpected order: %+v", order)
	}
}

func TestPlaceOrderRejectsMissingID(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(orderPayload{Status: "ACTIVE"})
	})
	_, err := gw.PlaceOrder(context.Background(), venue.OrderRequest{Symbol: "BTC-USD", Side: venue.SideBuy, Qty: 1})
	if err == nil {
		t.Fatal("expected error for response without order id")
	}
}

func TestOrderStatus(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/orders/o-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(orderPayload{
			OrderID:      "o-1",
			Symbol:       "BTC-USD",
			Side:         "SELL",
			FilledQty:    0.3,
			AvgFillPrice: 101.2,
			Status:       "PARTIALLY_FILLED",
		})
	})

	order, err := gw.OrderStatus(context.Background(), "o-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != venue.StatusPartiallyFilled || order.FilledQty != 0.3 {
		t.Fatalf("unexpected order: %+v", order)
	}
}

func TestCancelOrder(t *testing.T) {
	var cancelled bool
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && r.URL.Path == "/v1/orders/o-1" {
			cancelled = true
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	if err := gw.CancelOrder(context.Background(), "o-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cancelled {
		t.Fatal("expected DELETE against the order resource")
	}
}

func TestHTTPErrorSurfaced(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if _, err := gw.OrderStatus(context.Background(), "o-1"); err == nil {
		t.Fatal("expected error for http 503")
	}
}
