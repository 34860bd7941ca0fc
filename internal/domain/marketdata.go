package domain

import (
	"encoding/json"
	"math"
)

// PriceLevel is a single price+size entry in a book.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// MarketBook is an immutable copy of an instrument's book. Asks are ordered
// from the lowest price up, bids from the highest price down, so index 0 of
// either side is the best level.
type MarketBook struct {
	Header
	Asks []PriceLevel `json:"asks"`
	Bids []PriceLevel `json:"bids"`
}

// BestBid returns the highest bid price, or -Inf when there are no bids.
func (b MarketBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return math.Inf(-1)
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or +Inf when there are no asks.
func (b MarketBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return math.Inf(1)
	}
	return b.Asks[0].Price
}

// Rate is the top-of-book summary derived from a MarketBook. An empty side is
// represented by an infinite sentinel (-Inf bid, +Inf ask) and MidPrice is
// only meaningful when Quoted reports true.
type Rate struct {
	Header
	BestBid  float64 `json:"best_bid"`
	BestAsk  float64 `json:"best_ask"`
	MidPrice float64 `json:"mid_price"`
}

// Quoted reports whether both sides of the book were populated.
func (r Rate) Quoted() bool {
	return !math.IsInf(r.BestBid, 0) && !math.IsInf(r.BestAsk, 0)
}

// Spread returns best ask minus best bid. It is only meaningful when Quoted.
func (r Rate) Spread() float64 {
	return r.BestAsk - r.BestBid
}

type rateJSON struct {
	Header
	BestBid  *float64 `json:"best_bid"`
	BestAsk  *float64 `json:"best_ask"`
	MidPrice *float64 `json:"mid_price"`
}

// MarshalJSON encodes sentinel prices as null since JSON has no infinity.
func (r Rate) MarshalJSON() ([]byte, error) {
	return json.Marshal(rateJSON{
		Header:   r.Header,
		BestBid:  finiteOrNil(r.BestBid),
		BestAsk:  finiteOrNil(r.BestAsk),
		MidPrice: finiteOrNil(r.MidPrice),
	})
}

// UnmarshalJSON restores null prices to their sentinels.
func (r *Rate) UnmarshalJSON(data []byte) error {
	var raw rateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Header = raw.Header
	r.BestBid = valueOr(raw.BestBid, math.Inf(-1))
	r.BestAsk = valueOr(raw.BestAsk, math.Inf(1))
	r.MidPrice = valueOr(raw.MidPrice, math.NaN())
	return nil
}

func finiteOrNil(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

// MarketTrade is a single public execution reported by the venue.
type MarketTrade struct {
	Header
	Price    float64 `json:"price"`
	Size     float64 `json:"amount"`
	Side     Side    `json:"side"`
	OrderIDs string  `json:"order_ids"` // "<buy id>;<sell id>"
	TradeID  string  `json:"trade_id"`
}
