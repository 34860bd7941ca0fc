package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickerplant/internal/domain"
	"github.com/alanyoungcy/tickerplant/internal/sim"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func rate(i int, mid float64) domain.Rate {
	return domain.Rate{
		Header: domain.Header{
			Instrument: "BTCJPY",
			Venue:      domain.VenueBitflyer,
			Timestamp:  t0.Add(time.Duration(i) * time.Second),
		},
		BestBid:  mid - 0.5,
		BestAsk:  mid + 0.5,
		MidPrice: mid,
	}
}

type fakeStrategy struct {
	name   string
	rates  int
	books  int
	trades int
	inits  int
	closed bool
	err    error
}

func (f *fakeStrategy) Name() string               { return f.name }
func (f *fakeStrategy) Init(context.Context) error { f.inits++; return nil }
func (f *fakeStrategy) Close() error               { f.closed = true; return nil }
func (f *fakeStrategy) OnRate(context.Context, domain.Rate, domain.ExecutionClient) error {
	f.rates++
	return f.err
}
func (f *fakeStrategy) OnBook(context.Context, domain.MarketBook, domain.ExecutionClient) error {
	f.books++
	return f.err
}
func (f *fakeStrategy) OnTrade(context.Context, domain.MarketTrade, domain.ExecutionClient) error {
	f.trades++
	return f.err
}

func TestPriceTrackerWindow(t *testing.T) {
	pt := NewPriceTracker(10 * time.Second)
	pt.Track("X", 1, t0)
	pt.Track("X", 3, t0.Add(5*time.Second))
	assert.Equal(t, 2.0, pt.Average("X"))
	assert.InDelta(t, 1.0, pt.Volatility("X"), 1e-12)

	pt.Track("X", 5, t0.Add(12*time.Second))
	assert.Equal(t, 2, pt.Len("X"))
	assert.Equal(t, 4.0, pt.Average("X"))

	h := pt.History("X")
	h[0].Price = 100
	assert.Equal(t, 4.0, pt.Average("X"))

	assert.Zero(t, pt.Average("missing"))
	assert.Zero(t, pt.Volatility("missing"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeStrategy{name: "b"})
	r.Register(&fakeStrategy{name: "a"})
	assert.Equal(t, []string{"a", "b"}, r.List())

	_, err := r.Get("zzz")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngineDispatch(t *testing.T) {
	r := NewRegistry()
	first := &fakeStrategy{name: "first"}
	second := &fakeStrategy{name: "second"}
	r.Register(first)
	r.Register(second)

	e := NewEngine(r, nil, testLogger())
	ctx := context.Background()

	require.NoError(t, e.Accept(ctx, rate(0, 100)))
	assert.Zero(t, first.rates)

	assert.ErrorIs(t, e.SetActive(ctx, "nope"), domain.ErrNotFound)
	require.NoError(t, e.SetActive(ctx, "first"))
	assert.Equal(t, "first", e.ActiveName())
	assert.Equal(t, 1, first.inits)

	require.NoError(t, e.Accept(ctx, rate(1, 100)))
	require.NoError(t, e.Accept(ctx, domain.MarketBook{}))
	require.NoError(t, e.Accept(ctx, domain.MarketTrade{}))
	assert.Equal(t, 1, first.rates)
	assert.Equal(t, 1, first.books)
	assert.Equal(t, 1, first.trades)

	require.NoError(t, e.SetActive(ctx, "second"))
	assert.True(t, first.closed)

	second.err = errors.New("boom")
	err := e.Accept(ctx, rate(2, 100))
	assert.ErrorContains(t, err, "second")

	st := e.Stats()
	assert.Equal(t, "second", st.Active)
	assert.Equal(t, int64(4), st.Events)
	assert.Equal(t, int64(1), st.Errors)

	require.NoError(t, e.Close())
	assert.True(t, second.closed)
	assert.Empty(t, e.ActiveName())
}

func TestMeanReversionConfig(t *testing.T) {
	_, err := NewMeanReversion(Config{Instrument: "BTCJPY"}, testLogger())
	assert.Error(t, err)

	_, err = NewMeanReversion(Config{Size: 1}, testLogger())
	assert.Error(t, err)

	_, err = NewMeanReversion(Config{Instrument: "BTCJPY", Size: 1, Params: map[string]any{"lookback_window": "soon"}}, testLogger())
	assert.Error(t, err)

	mr, err := NewMeanReversion(Config{
		Instrument: "BTCJPY",
		Size:       1,
		Params:     map[string]any{"std_dev_threshold": int64(3), "min_samples": int64(7)},
	}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 3.0, mr.threshold)
	assert.Equal(t, 7, mr.minSamples)
	assert.Equal(t, MeanReversionName, mr.cfg.ModelID)
	assert.Equal(t, 1.0, mr.cfg.MaxPosition)
}

func TestMeanReversionTradesAgainstSimulator(t *testing.T) {
	ctx := context.Background()
	simulator := sim.New(domain.VenueBitflyer, sim.DefaultLatency(), domain.Identity{}, testLogger())

	mr, err := NewMeanReversion(Config{
		Instrument:  "BTCJPY",
		Size:        0.01,
		MaxPosition: 0.01,
		ModelID:     "mr-test",
		Params: map[string]any{
			"std_dev_threshold": 1.5,
			"min_samples":       int64(3),
			"lookback_window":   "1m",
		},
	}, testLogger())
	require.NoError(t, err)

	r := NewRegistry()
	r.Register(mr)
	engine := NewEngine(r, simulator, testLogger())
	require.NoError(t, engine.SetActive(ctx, MeanReversionName))

	step := func(ev domain.Event) {
		require.NoError(t, simulator.Accept(ctx, ev))
		require.NoError(t, engine.Accept(ctx, ev))
	}

	for i, mid := range []float64{100, 101, 99, 100} {
		step(rate(i, mid))
	}
	m, _ := simulator.Pending()
	assert.Zero(t, m)

	// Far below the mean: buy.
	step(rate(4, 90))
	m, _ = simulator.Pending()
	require.Equal(t, 1, m)

	// The next rate fills it at the ask.
	step(rate(5, 100))
	m, _ = simulator.Pending()
	assert.Zero(t, m)
	resolved := simulator.Resolved()
	require.Len(t, resolved, 1)
	assert.Equal(t, domain.SideBuy, resolved[0].Side)
	assert.Equal(t, 100.5, resolved[0].ExecutedPrice)
	assert.Equal(t, "mr-test", resolved[0].ModelID)

	// Another dip would exceed the position cap.
	step(rate(6, 80))
	m, _ = simulator.Pending()
	assert.Zero(t, m)

	// A spike flattens the position.
	step(rate(7, 130))
	m, _ = simulator.Pending()
	assert.Equal(t, 1, m)
}

func TestMeanReversionIgnoresOtherInstrumentsAndOneSidedRates(t *testing.T) {
	mr, err := NewMeanReversion(Config{Instrument: "BTCJPY", Size: 1}, testLogger())
	require.NoError(t, err)

	other := rate(0, 100)
	other.Instrument = "ETHJPY"
	require.NoError(t, mr.OnRate(context.Background(), other, nil))

	oneSided := rate(1, 100)
	oneSided.BestAsk = math.Inf(1)
	require.NoError(t, mr.OnRate(context.Background(), oneSided, nil))

	assert.Zero(t, mr.tracker.Len("BTCJPY"))
	assert.Zero(t, mr.tracker.Len("ETHJPY"))
}
