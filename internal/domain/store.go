package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists public market trades.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []MarketTrade) error
	ListByInstrument(ctx context.Context, instrument string, opts ListOpts) ([]MarketTrade, error)
}

// OrderStore persists simulated order outcomes.
type OrderStore interface {
	UpsertBatch(ctx context.Context, orders []Order) error
	ListByModel(ctx context.Context, modelID string, opts ListOpts) ([]Order, error)
}
