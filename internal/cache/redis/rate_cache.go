package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// RateCache implements domain.RateCache using Redis hashes. Each
// instrument's latest rate is stored at "rate:{venue}:{sym}" with fields
// "bid", "ask", "mid", "ts", "id" and "misc", plus "spread" when both sides
// are quoted.
type RateCache struct {
	c   *Client
	ttl time.Duration
}

// NewRateCache creates a RateCache whose keys expire after ttl (zero for
// never).
func NewRateCache(c *Client, ttl time.Duration) *RateCache {
	return &RateCache{c: c, ttl: ttl}
}

func (rc *RateCache) key(venue, sym string) string {
	return rc.c.Key("rate", venue, sym)
}

// SetRate stores the latest rate for its instrument.
func (rc *RateCache) SetRate(ctx context.Context, rate domain.Rate) error {
	key := rc.key(rate.Venue, rate.Instrument)
	pipe := rc.c.Underlying().TxPipeline()
	pipe.HSet(ctx, key, rateFields(rate))
	if !rate.Quoted() {
		pipe.HDel(ctx, key, "spread")
	}
	if rc.ttl > 0 {
		pipe.Expire(ctx, key, rc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set rate %s/%s: %w", rate.Venue, rate.Instrument, err)
	}
	return nil
}

func rateFields(rate domain.Rate) map[string]interface{} {
	fields := map[string]interface{}{
		"bid":  formatFloat(rate.BestBid),
		"ask":  formatFloat(rate.BestAsk),
		"mid":  formatFloat(rate.MidPrice),
		"ts":   strconv.FormatInt(rate.Timestamp.UnixNano(), 10),
		"id":   rate.UniversalID,
		"misc": rate.Misc,
	}
	if rate.Quoted() {
		fields["spread"] = formatFloat(rate.Spread())
	}
	return fields
}

// GetRate retrieves the latest rate for an instrument. It returns
// domain.ErrNotFound when the key does not exist.
func (rc *RateCache) GetRate(ctx context.Context, venue, instrument string) (domain.Rate, error) {
	vals, err := rc.c.Underlying().HGetAll(ctx, rc.key(venue, instrument)).Result()
	if err != nil {
		return domain.Rate{}, fmt.Errorf("redis: get rate %s/%s: %w", venue, instrument, err)
	}
	if len(vals) == 0 {
		return domain.Rate{}, fmt.Errorf("redis: get rate %s/%s: %w", venue, instrument, domain.ErrNotFound)
	}
	return decodeRate(venue, instrument, vals)
}

func decodeRate(venue, instrument string, vals map[string]string) (domain.Rate, error) {
	r := domain.Rate{Header: domain.Header{
		Instrument:  instrument,
		Venue:       venue,
		Category:    domain.CategoryLightning,
		UniversalID: vals["id"],
		Misc:        vals["misc"],
	}}
	var err error
	if r.BestBid, err = strconv.ParseFloat(vals["bid"], 64); err != nil {
		return domain.Rate{}, fmt.Errorf("redis: parse bid %s: %w", instrument, err)
	}
	if r.BestAsk, err = strconv.ParseFloat(vals["ask"], 64); err != nil {
		return domain.Rate{}, fmt.Errorf("redis: parse ask %s: %w", instrument, err)
	}
	if r.MidPrice, err = strconv.ParseFloat(vals["mid"], 64); err != nil {
		return domain.Rate{}, fmt.Errorf("redis: parse mid %s: %w", instrument, err)
	}
	if ns, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		r.Timestamp = time.Unix(0, ns).UTC()
		r.MarketCreatedAt = r.Timestamp
	}
	return r, nil
}

// Compile-time interface check.
var _ domain.RateCache = (*RateCache)(nil)
