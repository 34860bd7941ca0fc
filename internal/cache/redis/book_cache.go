package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// BookCache implements domain.BookCache using Redis sorted sets and hashes
// for each instrument's book.
//
// Key schema (before the client prefix):
//
//	book:{venue}:{sym}:bids     - sorted set of bid prices (score = price)
//	book:{venue}:{sym}:asks     - sorted set of ask prices (score = price)
//	book:{venue}:{sym}:bid:size - hash mapping price -> size for bids
//	book:{venue}:{sym}:ask:size - hash mapping price -> size for asks
//	book:{venue}:{sym}:bbo      - hash with fields "bid" and "ask"
//	book:{venue}:{sym}:meta     - hash with "ts", "id" and "misc"
type BookCache struct {
	c     *Client
	depth int
	ttl   time.Duration
}

// NewBookCache creates a BookCache storing at most depth levels per side
// (zero for all) with keys expiring after ttl (zero for never).
func NewBookCache(c *Client, depth int, ttl time.Duration) *BookCache {
	return &BookCache{c: c, depth: depth, ttl: ttl}
}

type bookKeys struct {
	bids, asks, bidSize, askSize, bbo, meta string
}

func (bc *BookCache) keys(venue, sym string) bookKeys {
	base := bc.c.Key("book", venue, sym)
	return bookKeys{
		bids:    base + ":bids",
		asks:    base + ":asks",
		bidSize: base + ":bid:size",
		askSize: base + ":ask:size",
		bbo:     base + ":bbo",
		meta:    base + ":meta",
	}
}

func (k bookKeys) all() []string {
	return []string{k.bids, k.asks, k.bidSize, k.askSize, k.bbo, k.meta}
}

// SetBook atomically replaces the cached book for the book's instrument.
func (bc *BookCache) SetBook(ctx context.Context, book domain.MarketBook) error {
	k := bc.keys(book.Venue, book.Instrument)
	pipe := bc.c.Underlying().TxPipeline()

	pipe.Del(ctx, k.all()...)
	writeSide(ctx, pipe, k.bids, k.bidSize, limit(book.Bids, bc.depth))
	writeSide(ctx, pipe, k.asks, k.askSize, limit(book.Asks, bc.depth))

	pipe.HSet(ctx, k.bbo, "bid", formatFloat(book.BestBid()), "ask", formatFloat(book.BestAsk()))
	pipe.HSet(ctx, k.meta,
		"ts", strconv.FormatInt(book.Timestamp.UnixNano(), 10),
		"id", book.UniversalID,
		"misc", book.Misc,
	)
	if bc.ttl > 0 {
		for _, key := range k.all() {
			pipe.Expire(ctx, key, bc.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s/%s: %w", book.Venue, book.Instrument, err)
	}
	return nil
}

func writeSide(ctx context.Context, pipe redis.Pipeliner, zKey, hKey string, levels []domain.PriceLevel) {
	for _, lvl := range levels {
		priceStr := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, zKey, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, hKey, priceStr, formatFloat(lvl.Size))
	}
}

// GetBook reconstructs up to depth levels per side of a cached book. It
// returns domain.ErrNotFound if nothing is cached for the instrument.
func (bc *BookCache) GetBook(ctx context.Context, venue, instrument string, depth int) (domain.MarketBook, error) {
	k := bc.keys(venue, instrument)
	stop := int64(-1)
	if depth > 0 {
		stop = int64(depth - 1)
	}

	pipe := bc.c.Underlying().Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, k.bids, 0, stop)
	asksCmd := pipe.ZRangeWithScores(ctx, k.asks, 0, stop)
	bidSizeCmd := pipe.HGetAll(ctx, k.bidSize)
	askSizeCmd := pipe.HGetAll(ctx, k.askSize)
	metaCmd := pipe.HGetAll(ctx, k.meta)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.MarketBook{}, fmt.Errorf("redis: get book %s/%s: %w", venue, instrument, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return domain.MarketBook{}, fmt.Errorf("redis: get book %s/%s: %w", venue, instrument, domain.ErrNotFound)
	}

	book := domain.MarketBook{Header: domain.Header{
		Instrument:  instrument,
		Venue:       venue,
		Category:    domain.CategoryLightning,
		UniversalID: meta["id"],
		Misc:        meta["misc"],
	}}
	if ns, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		book.Timestamp = time.Unix(0, ns).UTC()
		book.MarketCreatedAt = book.Timestamp
	}

	bidSizes, _ := bidSizeCmd.Result()
	bidsZ, _ := bidsCmd.Result()
	book.Bids = readSide(bidsZ, bidSizes)

	askSizes, _ := askSizeCmd.Result()
	asksZ, _ := asksCmd.Result()
	book.Asks = readSide(asksZ, askSizes)
	return book, nil
}

func readSide(zs []redis.Z, sizes map[string]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		priceStr, ok := z.Member.(string)
		if !ok {
			continue
		}
		size, err := strconv.ParseFloat(sizes[priceStr], 64)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: z.Score, Size: size})
	}
	return out
}

// GetBBO retrieves the cached best bid and ask. Empty sides come back as
// their infinite sentinels. It returns domain.ErrNotFound if nothing is
// cached.
func (bc *BookCache) GetBBO(ctx context.Context, venue, instrument string) (bestBid, bestAsk float64, err error) {
	k := bc.keys(venue, instrument)
	vals, err := bc.c.Underlying().HGetAll(ctx, k.bbo).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s/%s: %w", venue, instrument, err)
	}
	if len(vals) == 0 {
		return 0, 0, fmt.Errorf("redis: get bbo %s/%s: %w", venue, instrument, domain.ErrNotFound)
	}
	bestBid, _ = strconv.ParseFloat(vals["bid"], 64)
	bestAsk, _ = strconv.ParseFloat(vals["ask"], 64)
	return bestBid, bestAsk, nil
}

func limit(levels []domain.PriceLevel, depth int) []domain.PriceLevel {
	if depth > 0 && len(levels) > depth {
		return levels[:depth]
	}
	return levels
}

// formatFloat renders sentinels as "+Inf"/"-Inf", which ParseFloat accepts.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
