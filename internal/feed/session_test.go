package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickerplant/internal/book"
	"github.com/alanyoungcy/tickerplant/internal/domain"
	"github.com/alanyoungcy/tickerplant/internal/platform/bitflyer"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *recorder) kinds() []domain.EventKind {
	var out []domain.EventKind
	for _, ev := range r.snapshot() {
		out = append(out, ev.Kind())
	}
	return out
}

// fakeTransport serves one scripted message list per connection. Once a
// list is exhausted the connection drops, except for the last one, which
// blocks until closed.
type fakeTransport struct {
	mu       sync.Mutex
	script   [][]bitflyer.Message
	conn     int
	pos      int
	subs     []string
	closed   chan struct{}
	connects int
	// failConnect, when set, is consulted with the 1-based attempt number.
	failConnect func(n int) error
	connectAt   []time.Time
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.connectAt = append(f.connectAt, time.Now())
	f.conn = f.connects - 1
	f.pos = 0
	f.closed = make(chan struct{})
	if f.failConnect != nil {
		return f.failConnect(f.connects)
	}
	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, ch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, ch)
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) (bitflyer.Message, error) {
	f.mu.Lock()
	closed := f.closed
	if f.conn < len(f.script) && f.pos < len(f.script[f.conn]) {
		msg := f.script[f.conn][f.pos]
		f.pos++
		f.mu.Unlock()
		return msg, nil
	}
	last := f.conn >= len(f.script)-1
	f.mu.Unlock()

	if !last {
		return bitflyer.Message{}, fmt.Errorf("fake: eof: %w", domain.ErrWSDisconnect)
	}
	select {
	case <-closed:
		return bitflyer.Message{}, domain.ErrWSDisconnect
	case <-ctx.Done():
		return bitflyer.Message{}, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed != nil {
		select {
		case <-f.closed:
		default:
			close(f.closed)
		}
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func msg(t *testing.T, event string, payload any) bitflyer.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return bitflyer.Message{Event: event, Payload: data}
}

func board(asks, bids [][2]float64) map[string]any {
	conv := func(in [][2]float64) []map[string]float64 {
		out := []map[string]float64{}
		for _, l := range in {
			out = append(out, map[string]float64{"price": l[0], "size": l[1]})
		}
		return out
	}
	return map[string]any{"mid_price": 0, "asks": conv(asks), "bids": conv(bids)}
}

func testConfig() Config {
	return Config{
		Channels:       []string{"lightning_board_snapshot_BTC_JPY", "lightning_board_BTC_JPY"},
		ErrorBackoff:   time.Millisecond,
		KickedCooldown: time.Millisecond,
		ReconnectMin:   time.Millisecond,
		ReconnectMax:   2 * time.Millisecond,
	}
}

func newTestSession(tr Transport, pub Publisher) *Session {
	id := domain.Identity{DataCenter: "dc", ProcessID: "proc"}
	return NewSession(testConfig(), tr, book.NewManager(id), pub, id, discardLogger())
}

func TestHandleSnapshotPublishesRateThenBook(t *testing.T) {
	rec := &recorder{}
	s := newTestSession(&fakeTransport{}, rec)

	err := s.HandleMessage(context.Background(),
		msg(t, "lightning_board_snapshot_BTC_JPY", board([][2]float64{{100, 1}, {101, 2}}, [][2]float64{{99, 1}})))
	require.NoError(t, err)

	require.Equal(t, []domain.EventKind{domain.KindRate, domain.KindMarketBook}, rec.kinds())
	rate := rec.snapshot()[0].(domain.Rate)
	assert.Equal(t, "BTCJPY", rate.Instrument)
	assert.Equal(t, 99.5, rate.MidPrice)
}

func TestHandleDeltaPublishesRateOnlyOnChange(t *testing.T) {
	rec := &recorder{}
	s := newTestSession(&fakeTransport{}, rec)
	ctx := context.Background()

	// Delta before any snapshot is ignored.
	require.NoError(t, s.HandleMessage(ctx, msg(t, "lightning_board_BTC_JPY", board([][2]float64{{100, 1}}, nil))))
	assert.Empty(t, rec.snapshot())

	require.NoError(t, s.HandleMessage(ctx,
		msg(t, "lightning_board_snapshot_BTC_JPY", board([][2]float64{{100, 1}, {101, 2}}, [][2]float64{{99, 1}}))))
	require.NoError(t, s.HandleMessage(ctx, msg(t, "lightning_board_BTC_JPY", board([][2]float64{{102, 1}}, nil))))
	require.NoError(t, s.HandleMessage(ctx, msg(t, "lightning_board_BTC_JPY", board([][2]float64{{100, 0}}, nil))))

	assert.Equal(t, []domain.EventKind{
		domain.KindRate, domain.KindMarketBook, // snapshot
		domain.KindMarketBook,                  // deep level only
		domain.KindRate, domain.KindMarketBook, // best ask moved
	}, rec.kinds())

	evs := rec.snapshot()
	rate := evs[3].(domain.Rate)
	assert.Equal(t, 101.0, rate.BestAsk)
	assert.Equal(t, book.MiscDiff, rate.Misc)
}

func TestHandleExecutionsInOrder(t *testing.T) {
	rec := &recorder{}
	s := newTestSession(&fakeTransport{}, rec)

	execs := []map[string]any{
		{"id": 1, "side": "BUY", "price": 100, "size": 0.1, "exec_date": "2024-03-01T00:00:00Z",
			"buy_child_order_acceptance_id": "b1", "sell_child_order_acceptance_id": "s1"},
		{"id": 2, "side": "SELL", "price": 99, "size": 0.2, "exec_date": "2024-03-01T00:00:01Z",
			"buy_child_order_acceptance_id": "b2", "sell_child_order_acceptance_id": "s2"},
	}
	require.NoError(t, s.HandleMessage(context.Background(), msg(t, "lightning_executions_FX_BTC_JPY", execs)))

	evs := rec.snapshot()
	require.Len(t, evs, 2)
	first, second := evs[0].(domain.MarketTrade), evs[1].(domain.MarketTrade)
	assert.Equal(t, "1", first.TradeID)
	assert.Equal(t, domain.SideBuy, first.Side)
	assert.Equal(t, "FXBTCJPY", first.Instrument)
	assert.Equal(t, "2", second.TradeID)
	assert.Equal(t, domain.SideSell, second.Side)
}

func TestHandleMalformedAndControlMessages(t *testing.T) {
	rec := &recorder{}
	s := newTestSession(&fakeTransport{}, rec)
	ctx := context.Background()

	err := s.HandleMessage(ctx, bitflyer.Message{Event: "lightning_board_snapshot_BTC_JPY", Payload: []byte(`{"asks":"x"}`)})
	assert.ErrorIs(t, err, domain.ErrMalformed)

	err = s.HandleMessage(ctx, msg(t, "lightning_board_snapshot_BTC_JPY", board([][2]float64{{100, -1}}, nil)))
	assert.ErrorIs(t, err, domain.ErrMalformed)

	assert.NoError(t, s.HandleMessage(ctx, msg(t, "lightning_ticker_BTC_JPY", map[string]any{"ltp": 1})))
	assert.ErrorIs(t, s.HandleMessage(ctx, msg(t, "kicked", map[string]any{})), domain.ErrKicked)
	assert.ErrorIs(t, s.HandleMessage(ctx, msg(t, "mystery", map[string]any{})), domain.ErrUnknownEvent)
	assert.Empty(t, rec.snapshot())
}

func TestRunReconnectsAndResubscribes(t *testing.T) {
	rec := &recorder{}
	tr := &fakeTransport{}
	tr.script = [][]bitflyer.Message{
		{
			msg(t, "lightning_board_snapshot_BTC_JPY", board([][2]float64{{100, 1}}, [][2]float64{{99, 1}})),
			{Event: "lightning_board_BTC_JPY", Payload: []byte(`garbage`)},
		},
		{
			msg(t, "lightning_board_BTC_JPY", board(nil, [][2]float64{{99.5, 1}})),
		},
	}
	s := newTestSession(tr, rec)

	var mu sync.Mutex
	var seen []State
	s.OnStateChange(func(_, to State, _ error) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 4 }, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Disconnect")
	}

	assert.Equal(t, StateDisconnected, s.State())
	tr.mu.Lock()
	assert.Equal(t, 2, tr.connects)
	assert.Equal(t, append(testConfig().Channels, testConfig().Channels...), tr.subs)
	tr.mu.Unlock()

	mu.Lock()
	assert.Equal(t, []State{
		StateConnecting, StateConnected, StateError, StateReconnecting,
		StateConnecting, StateConnected, StateDisconnected,
	}, seen)
	mu.Unlock()
	assert.Equal(t, 1, s.Status().Reconnects)
}

func TestRunKickedCoolsDown(t *testing.T) {
	rec := &recorder{}
	tr := &fakeTransport{script: [][]bitflyer.Message{
		{msg(t, "kicked", map[string]any{})},
		{},
	}}
	s := newTestSession(tr, rec)

	var mu sync.Mutex
	var seen []State
	s.OnStateChange(func(_, to State, _ error) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.connects == 2
	}, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	assert.Contains(t, seen, StateKicked)
	assert.NotContains(t, seen, StateError)
	mu.Unlock()
}

func TestRunHoldsReconnectDuringMaintenance(t *testing.T) {
	rec := &recorder{}
	tr := &fakeTransport{
		script: [][]bitflyer.Message{{}, {}, {}},
		failConnect: func(n int) error {
			if n == 2 {
				return fmt.Errorf("fake: dial: %w", domain.ErrWSDisconnect)
			}
			return nil
		},
	}
	cfg := testConfig()
	cfg.Maintenance = MaintenanceWindow{
		Start:    19 * time.Hour,
		Duration: 10 * time.Minute,
		Resume:   10 * time.Minute,
		Location: time.UTC,
	}
	id := domain.Identity{DataCenter: "dc", ProcessID: "proc"}
	s := NewSession(cfg, tr, book.NewManager(id), rec, id, discardLogger())

	// 300ms before the window closes, advancing with the wall clock.
	base := time.Date(2024, 3, 1, 19, 9, 59, 700_000_000, time.UTC)
	started := time.Now()
	s.now = func() time.Time { return base.Add(time.Since(started)) }

	var mu sync.Mutex
	var waits []time.Duration
	var errorsSeen int
	s.OnMaintenance(func(wait time.Duration) {
		mu.Lock()
		waits = append(waits, wait)
		mu.Unlock()
	})
	s.OnStateChange(func(_, to State, _ error) {
		if to == StateError {
			mu.Lock()
			errorsSeen++
			mu.Unlock()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.connects == 3
	}, 3*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	require.Len(t, waits, 1)
	assert.LessOrEqual(t, waits[0], 300*time.Millisecond)
	assert.Greater(t, waits[0], 200*time.Millisecond)
	assert.Equal(t, 2, errorsSeen)
	mu.Unlock()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.GreaterOrEqual(t, tr.connectAt[1].Sub(tr.connectAt[0]), waits[0])
	assert.Less(t, tr.connectAt[2].Sub(tr.connectAt[1]), 200*time.Millisecond)
	assert.Equal(t, 2, s.Status().Reconnects)
}
