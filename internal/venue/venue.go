package venue

import "context"

// MarketData yields the current best bid/ask for a symbol on one venue.
type MarketData interface {
	BestBidAsk(ctx context.Context, symbol string) (BookSnapshot, error)
}

// OrderGateway is an authenticated order-management surface for one venue.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	OrderStatus(ctx context.Context, orderID string) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}
