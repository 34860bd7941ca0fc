package domain

import (
	"context"
	"time"
)

// EventKind names a normalized event type. The values double as directory
// names for tick files and suffixes for stream topics.
type EventKind string

const (
	KindRate        EventKind = "Rate"
	KindMarketBook  EventKind = "MarketBook"
	KindMarketTrade EventKind = "MarketTrade"
)

// Event is a normalized market-data record: a Rate, a MarketBook or a
// MarketTrade.
type Event interface {
	Kind() EventKind
	Symbol() string
	VenueName() string
	ReceivedAt() time.Time
}

// EventSink consumes normalized events. Accept is called synchronously on the
// ingestion goroutine and must not retain references to mutable state.
type EventSink interface {
	Accept(ctx context.Context, ev Event) error
}

// SinkFunc adapts a plain function to EventSink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Accept(ctx context.Context, ev Event) error { return f(ctx, ev) }

func (r Rate) Kind() EventKind              { return KindRate }
func (r Rate) Symbol() string               { return r.Instrument }
func (r Rate) VenueName() string            { return r.Venue }
func (r Rate) ReceivedAt() time.Time        { return r.Timestamp }
func (b MarketBook) Kind() EventKind        { return KindMarketBook }
func (b MarketBook) Symbol() string         { return b.Instrument }
func (b MarketBook) VenueName() string      { return b.Venue }
func (b MarketBook) ReceivedAt() time.Time  { return b.Timestamp }
func (t MarketTrade) Kind() EventKind       { return KindMarketTrade }
func (t MarketTrade) Symbol() string        { return t.Instrument }
func (t MarketTrade) VenueName() string     { return t.Venue }
func (t MarketTrade) ReceivedAt() time.Time { return t.Timestamp }
