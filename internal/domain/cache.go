package domain

import (
	"context"
	"time"
)

// BookCache stores the latest book per instrument.
type BookCache interface {
	SetBook(ctx context.Context, book MarketBook) error
	GetBook(ctx context.Context, venue, instrument string, depth int) (MarketBook, error)
	GetBBO(ctx context.Context, venue, instrument string) (bestBid, bestAsk float64, err error)
}

// RateCache stores the latest top-of-book rate per instrument.
type RateCache interface {
	SetRate(ctx context.Context, rate Rate) error
	GetRate(ctx context.Context, venue, instrument string) (Rate, error)
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// RateLimiter admits at most limit requests per key within window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
