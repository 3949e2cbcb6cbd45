package venue

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the compensating side for a fill.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

type TimeInForce string

const (
	TifGtc TimeInForce = "GTC"
	TifIoc TimeInForce = "IOC"
)

type OrderStatus string

const (
	StatusActive          OrderStatus = "ACTIVE"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the venue will never change the order again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// BookSnapshot is one venue's best bid/ask at a point in time. Values are
// never mutated after construction.
type BookSnapshot struct {
	Symbol   string
	BidPrice float64
	BidQty   float64
	AskPrice float64
	AskQty   float64
	Time     time.Time
}

func (b BookSnapshot) Mid() float64 {
	if b.BidPrice <= 0 || b.AskPrice <= 0 {
		return 0
	}
	return (b.BidPrice + b.AskPrice) / 2
}

func (b BookSnapshot) SpreadBps() float64 {
	mid := b.Mid()
	if mid == 0 {
		return 0
	}
	return (b.AskPrice - b.BidPrice) / mid * 10000
}

type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Qty           float64
	Price         float64
	Tif           TimeInForce
	ClientOrderID string
}

type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Price         float64
	Qty           float64
	FilledQty     float64
	AvgFillPrice  float64
	Status        OrderStatus
	UpdatedAt     time.Time
}

// FillEvent is emitted once per observed fill quantity and consumed exactly
// once by the hedge executor.
type FillEvent struct {
	OrderID string
	Symbol  string
	Side    Side
	Price   float64
	Qty     float64
	// Cumulative is the order's filled-quantity high-water mark after this
	// fill. It is strictly increasing per order, which makes it a stable key
	// for the fill.
	Cumulative float64
	Time       time.Time
}
