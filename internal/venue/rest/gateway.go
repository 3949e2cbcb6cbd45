package rest

import (
	"context"
	"errors"
	"net/url"
	"time"

	"mm-hedge-bot/internal/venue"
)

// Gateway implements venue.OrderGateway against a REST order API.
type Gateway struct {
	client *Client
}

func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client}
}

type orderPayload struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Price         float64 `json:"price"`
	Qty           float64 `json:"qty"`
	FilledQty     float64 `json:"filled_qty"`
	AvgFillPrice  float64 `json:"avg_fill_price"`
	Status        string  `json:"status"`
	UpdatedAtMS   int64   `json:"updated_at_ms"`
}

type placeRequest struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Qty           float64 `json:"qty"`
	Price         float64 `json:"price,omitempty"`
	Tif           string  `json:"tif,omitempty"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

func (g *Gateway) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.Order, error) {
	if req.Symbol == "" {
		return venue.Order{}, errors.New("order symbol is required")
	}
	if req.Qty <= 0 {
		return venue.Order{}, errors.New("order qty must be > 0")
	}
	var resp orderPayload
	err := g.client.Post(ctx, "/v1/orders", placeRequest{
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          string(req.Type),
		Qty:           req.Qty,
		Price:         req.Price,
		Tif:           string(req.Tif),
		ClientOrderID: req.ClientOrderID,
	}, &resp)
	if err != nil {
		return venue.Order{}, err
	}
	order := toOrder(resp)
	if order.OrderID == "" {
		return venue.Order{}, errors.New("venue response missing order id")
	}
	return order, nil
}

func (g *Gateway) OrderStatus(ctx context.Context, orderID string) (venue.Order, error) {
	if orderID == "" {
		return venue.Order{}, errors.New("order id is required")
	}
	var resp orderPayload
	if err := g.client.Get(ctx, "/v1/orders/"+url.PathEscape(orderID), &resp); err != nil {
		return venue.Order{}, err
	}
	return toOrder(resp), nil
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return errors.New("order id is required")
	}
	return g.client.Delete(ctx, "/v1/orders/"+url.PathEscape(orderID))
}

func toOrder(p orderPayload) venue.Order {
	return venue.Order{
		OrderID:       p.OrderID,
		ClientOrderID: p.ClientOrderID,
		Symbol:        p.Symbol,
		Side:          venue.Side(p.Side),
		Price:         p.Price,
		Qty:           p.Qty,
		FilledQty:     p.FilledQty,
		AvgFillPrice:  p.AvgFillPrice,
		Status:        venue.OrderStatus(p.Status),
		UpdatedAt:     time.UnixMilli(p.UpdatedAtMS).UTC(),
	}
}
