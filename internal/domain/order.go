package domain

import (
	"context"
	"time"
)

// Side is the signed direction of an order or trade: +1 buy, -1 sell.
type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = -1
)

// SideFromString maps the venue's "BUY"/"SELL" strings; anything other than
// "BUY" is a sell.
func SideFromString(s string) Side {
	if s == "BUY" {
		return SideBuy
	}
	return SideSell
}

func (s Side) String() string {
	if s > 0 {
		return "buy"
	}
	return "sell"
}

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "new"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled
}

// Order is a simulated (or live) order and its latest state.
//
// Timestamp is the client-side time of the last transition; MarketCreatedAt
// and ReceivedAt model the venue-side and acknowledgement times.
type Order struct {
	ID              string      `json:"order_id"`
	Instrument      string      `json:"sym"`
	Venue           string      `json:"venue"`
	Side            Side        `json:"side"`
	Type            OrderType   `json:"order_type"`
	Price           float64     `json:"price"`
	Amount          float64     `json:"amount"`
	ExecutedPrice   float64     `json:"executed_price"`
	ExecutedAmount  float64     `json:"executed_amount"`
	Status          OrderStatus `json:"status"`
	ModelID         string      `json:"model_id"`
	Timestamp       time.Time   `json:"timestamp"`
	MarketCreatedAt time.Time   `json:"market_created_timestamp"`
	ReceivedAt      time.Time   `json:"received_timestamp"`
	UniversalID     string      `json:"universal_id"`
	DataCenter      string      `json:"data_center"`
	ProcessID       string      `json:"process_id"`
}

// OrderRequest carries the inputs of SubmitOrder.
type OrderRequest struct {
	Timestamp  time.Time
	Instrument string
	Venue      string
	Side       Side
	Price      float64 // ignored for market orders
	Amount     float64
	Type       OrderType
	ModelID    string
}

// ExecutionClient is the order-entry surface used by strategies. The
// simulator implements it; a live venue client would too.
type ExecutionClient interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, ts time.Time, orderID string) (Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (Order, bool)
	GetPositions(ctx context.Context) ([]Position, error)
}
