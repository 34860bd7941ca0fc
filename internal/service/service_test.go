package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeCache struct {
	rates     []domain.Rate
	books     []domain.MarketBook
	published map[string][][]byte
	streams   map[string][][]byte
	err       error
}

func newFakeCache() *fakeCache {
	return &fakeCache{published: map[string][][]byte{}, streams: map[string][][]byte{}}
}

func (f *fakeCache) SetRate(_ context.Context, r domain.Rate) error {
	if f.err != nil {
		return f.err
	}
	f.rates = append(f.rates, r)
	return nil
}

func (f *fakeCache) GetRate(_ context.Context, _, instrument string) (domain.Rate, error) {
	for i := len(f.rates) - 1; i >= 0; i-- {
		if f.rates[i].Instrument == instrument {
			return f.rates[i], nil
		}
	}
	return domain.Rate{}, domain.ErrNotFound
}

func (f *fakeCache) SetBook(_ context.Context, b domain.MarketBook) error {
	f.books = append(f.books, b)
	return nil
}

func (f *fakeCache) GetBook(context.Context, string, string, int) (domain.MarketBook, error) {
	return domain.MarketBook{}, domain.ErrNotFound
}

func (f *fakeCache) GetBBO(context.Context, string, string) (float64, float64, error) {
	return 0, 0, domain.ErrNotFound
}

func (f *fakeCache) Publish(_ context.Context, ch string, payload []byte) error {
	f.published[ch] = append(f.published[ch], payload)
	return nil
}

func (f *fakeCache) StreamAppend(_ context.Context, stream string, payload []byte) error {
	f.streams[stream] = append(f.streams[stream], payload)
	return nil
}

func header(sym string) domain.Header {
	return domain.Header{Instrument: sym, Venue: domain.VenueBitflyer, Timestamp: time.Unix(1709251200, 0).UTC()}
}

func TestMarketDataServiceRoutesByKind(t *testing.T) {
	fc := newFakeCache()
	svc := NewMarketDataService(fc, fc, fc, time.Second, discardLogger())
	ctx := context.Background()

	require.NoError(t, svc.Accept(ctx, domain.Rate{Header: header("BTCJPY"), BestBid: 99, BestAsk: 100, MidPrice: 99.5}))
	require.NoError(t, svc.Accept(ctx, domain.MarketBook{Header: header("BTCJPY")}))
	require.NoError(t, svc.Accept(ctx, domain.MarketTrade{Header: header("BTCJPY"), Price: 100, TradeID: "7"}))

	assert.Len(t, fc.rates, 1)
	assert.Len(t, fc.books, 1)
	require.Len(t, fc.published[ChannelRates], 1)
	assert.Contains(t, string(fc.published[ChannelRates][0]), `"best_bid":99`)
	require.Len(t, fc.streams["trades:BTCJPY"], 1)
	assert.Contains(t, string(fc.streams["trades:BTCJPY"][0]), `"trade_id":"7"`)

	r, err := svc.LatestRate(ctx, domain.VenueBitflyer, "BTCJPY")
	require.NoError(t, err)
	assert.Equal(t, 99.5, r.MidPrice)

	_, err = svc.LatestRate(ctx, domain.VenueBitflyer, "ETHJPY")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketDataServiceSurfacesCacheErrors(t *testing.T) {
	fc := newFakeCache()
	fc.err = errors.New("down")
	svc := NewMarketDataService(fc, fc, fc, 0, discardLogger())

	err := svc.Accept(context.Background(), domain.Rate{Header: header("BTCJPY")})
	assert.ErrorContains(t, err, "down")
	assert.Empty(t, fc.published)
}

type fakeTradeStore struct {
	mu      sync.Mutex
	batches [][]domain.MarketTrade
	fail    bool
}

func (f *fakeTradeStore) InsertBatch(_ context.Context, trades []domain.MarketTrade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("db down")
	}
	f.batches = append(f.batches, append([]domain.MarketTrade(nil), trades...))
	return nil
}

func (f *fakeTradeStore) ListByInstrument(context.Context, string, domain.ListOpts) ([]domain.MarketTrade, error) {
	return nil, nil
}

func TestTradeRecorderBatches(t *testing.T) {
	store := &fakeTradeStore{}
	rec := NewTradeRecorder(store, 2, 0, discardLogger())
	ctx := context.Background()

	require.NoError(t, rec.Accept(ctx, domain.Rate{Header: header("BTCJPY")}))
	require.NoError(t, rec.Accept(ctx, domain.MarketTrade{Header: header("BTCJPY"), TradeID: "1"}))
	assert.Empty(t, store.batches)

	require.NoError(t, rec.Accept(ctx, domain.MarketTrade{Header: header("BTCJPY"), TradeID: "2"}))
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 2)

	require.NoError(t, rec.Accept(ctx, domain.MarketTrade{Header: header("BTCJPY"), TradeID: "3"}))
	pending, stored := rec.Stats()
	assert.Equal(t, 1, pending)
	assert.Equal(t, int64(2), stored)
}

func TestTradeRecorderKeepsBatchOnFailure(t *testing.T) {
	store := &fakeTradeStore{fail: true}
	rec := NewTradeRecorder(store, 10, 0, discardLogger())
	ctx := context.Background()

	require.NoError(t, rec.Accept(ctx, domain.MarketTrade{Header: header("BTCJPY"), TradeID: "1"}))
	assert.Error(t, rec.Flush(ctx))
	pending, _ := rec.Stats()
	assert.Equal(t, 1, pending)

	store.fail = false
	require.NoError(t, rec.Flush(ctx))
	pending, stored := rec.Stats()
	assert.Zero(t, pending)
	assert.Equal(t, int64(1), stored)
}

func TestTradeRecorderFlushesOnShutdown(t *testing.T) {
	store := &fakeTradeStore{}
	rec := NewTradeRecorder(store, 100, time.Hour, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, rec.Accept(ctx, domain.MarketTrade{Header: header("BTCJPY"), TradeID: "1"}))
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.batches, 1)
}

type sent struct {
	topic      string
	key, value []byte
}

type fakeProducer struct{ msgs []sent }

func (f *fakeProducer) Send(_ context.Context, topic string, key, value []byte) error {
	f.msgs = append(f.msgs, sent{topic, key, value})
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func TestEventPublisherTopicsAndFilter(t *testing.T) {
	prod := &fakeProducer{}
	pub := NewEventPublisher(prod, "tickerplant", []domain.EventKind{domain.KindRate, domain.KindMarketTrade}, discardLogger())
	ctx := context.Background()

	require.NoError(t, pub.Accept(ctx, domain.Rate{Header: header("BTCJPY"), BestBid: 1, BestAsk: 2}))
	require.NoError(t, pub.Accept(ctx, domain.MarketBook{Header: header("BTCJPY")}))
	require.NoError(t, pub.Accept(ctx, domain.MarketTrade{Header: header("ETHJPY")}))

	require.Len(t, prod.msgs, 2)
	assert.Equal(t, "tickerplant.rate", prod.msgs[0].topic)
	assert.Equal(t, "BTCJPY", string(prod.msgs[0].key))
	assert.Equal(t, "tickerplant.markettrade", prod.msgs[1].topic)
	assert.Equal(t, "ETHJPY", string(prod.msgs[1].key))
}
