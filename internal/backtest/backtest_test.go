package backtest

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickerplant/internal/domain"
	"github.com/alanyoungcy/tickerplant/internal/sim"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func rateAt(ts time.Time, bid, ask float64) domain.Rate {
	return domain.Rate{
		Header:   domain.Header{Timestamp: ts, MarketCreatedAt: ts, Instrument: "BTCJPY", Venue: domain.VenueBitflyer},
		BestBid:  bid,
		BestAsk:  ask,
		MidPrice: (bid + ask) / 2,
	}
}

func tradeAt(ts time.Time, price float64) domain.MarketTrade {
	return domain.MarketTrade{
		Header: domain.Header{Timestamp: ts, MarketCreatedAt: ts, Instrument: "BTCJPY", Venue: domain.VenueBitflyer},
		Price:  price,
		Size:   0.5,
		Side:   domain.SideBuy,
	}
}

func jsonLines(t *testing.T, events ...any) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, ev := range events {
		if s, ok := ev.(string); ok {
			buf.WriteString(s + "\n")
			continue
		}
		data, err := json.Marshal(ev)
		require.NoError(t, err)
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func gz(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, root string, kind domain.EventKind, name string, data []byte) {
	t.Helper()
	dir := filepath.Join(root, string(kind))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

// recordedDir lays out a rotated compressed rate file, the active rate file
// (with one corrupt line) and the active trade file.
func recordedDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, domain.KindRate, "bitflyer-2024-03-01T08-59-59.000.gz",
		gz(t, jsonLines(t, rateAt(t0, 99, 101))))
	writeFile(t, root, domain.KindRate, "bitflyer",
		jsonLines(t, "{not json", rateAt(t0.Add(2*time.Second), 100, 102)))
	writeFile(t, root, domain.KindMarketTrade, "bitflyer",
		jsonLines(t, tradeAt(t0.Add(time.Second), 100)))
	writeFile(t, root, domain.KindRate, "unrelated.txt", []byte("ignored\n"))
	return root
}

type memOrders struct {
	mu      sync.Mutex
	batches [][]domain.Order
}

func (m *memOrders) UpsertBatch(_ context.Context, orders []domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]domain.Order(nil), orders...))
	return nil
}

func (m *memOrders) ListByModel(context.Context, string, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

func TestDirSourceOrdersBackupsBeforeActive(t *testing.T) {
	root := recordedDir(t)
	writeFile(t, root, domain.KindRate, "bitflyer-2024-02-29T00-00-00.000", []byte{})

	files, err := DirSource{Root: root, Venue: "bitflyer"}.Files(context.Background(), domain.KindRate)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "bitflyer-2024-02-29T00-00-00.000", filepath.Base(files[0]))
	assert.Equal(t, "bitflyer-2024-03-01T08-59-59.000.gz", filepath.Base(files[1]))
	assert.Equal(t, "bitflyer", filepath.Base(files[2]))

	none, err := DirSource{Root: root, Venue: "bitflyer"}.Files(context.Background(), domain.KindMarketBook)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRunReplaysMergedEventsIntoSimulatorThenStrategy(t *testing.T) {
	root := recordedDir(t)
	simulator := sim.New(domain.VenueBitflyer, sim.DefaultLatency(), domain.Identity{DataCenter: "dc", ProcessID: "p"}, discardLogger())

	var seen []domain.EventKind
	strategy := domain.SinkFunc(func(ctx context.Context, ev domain.Event) error {
		seen = append(seen, ev.Kind())
		if ev.Kind() == domain.KindMarketTrade {
			_, err := simulator.SubmitOrder(ctx, domain.OrderRequest{
				Timestamp:  ev.ReceivedAt(),
				Instrument: "BTCJPY",
				Side:       domain.SideBuy,
				Amount:     1,
				Type:       domain.OrderTypeMarket,
				ModelID:    "m",
			})
			return err
		}
		return nil
	})
	orders := &memOrders{}

	r := NewRunner(Config{}, DirSource{Root: root, Venue: "bitflyer"}, simulator, strategy, orders, discardLogger())
	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.EventKind{domain.KindRate, domain.KindMarketTrade, domain.KindRate}, seen)
	assert.Equal(t, int64(2), sum.Rates)
	assert.Equal(t, int64(1), sum.Trades)
	assert.Equal(t, int64(1), sum.Skipped)
	assert.Equal(t, t0, sum.First)
	assert.Equal(t, t0.Add(2*time.Second), sum.Last)
	assert.Equal(t, 1, sum.Filled)
	assert.Equal(t, 0, sum.Pending)
	assert.Equal(t, 1, sum.Persisted)

	require.Len(t, orders.batches, 1)
	assert.Equal(t, 102.0, orders.batches[0][0].ExecutedPrice)
	require.Len(t, sum.Positions, 1)
	assert.Equal(t, 1.0, sum.Positions[0].Amount)
}

func TestRunAppliesTimeBounds(t *testing.T) {
	root := recordedDir(t)
	simulator := sim.New(domain.VenueBitflyer, sim.DefaultLatency(), domain.Identity{}, discardLogger())

	cfg := Config{Since: t0.Add(500 * time.Millisecond), Until: t0.Add(2 * time.Second)}
	sum, err := NewRunner(cfg, DirSource{Root: root, Venue: "bitflyer"}, simulator, nil, nil, discardLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.Rates)
	assert.Equal(t, int64(1), sum.Trades)
	assert.Equal(t, int64(1), sum.Events())
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	root := recordedDir(t)
	simulator := sim.New(domain.VenueBitflyer, sim.DefaultLatency(), domain.Identity{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRunner(Config{}, DirSource{Root: root, Venue: "bitflyer"}, simulator, nil, nil, discardLogger()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

type memBlobs struct {
	objects map[string][]byte
}

func (m memBlobs) Get(_ context.Context, p string) (io.ReadCloser, error) {
	data, ok := m.objects[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m memBlobs) Exists(_ context.Context, p string) (bool, error) {
	_, ok := m.objects[p]
	return ok, nil
}

func TestBlobSourceReplaysArchivedFiles(t *testing.T) {
	blobs := memBlobs{objects: map[string][]byte{
		"ticks/Rate/bitflyer-2024-03-01T10-00-00.000.gz":        gz(t, jsonLines(t, rateAt(t0.Add(time.Hour), 100, 101))),
		"ticks/Rate/bitflyer-2024-03-01T09-00-00.000.gz":        gz(t, jsonLines(t, rateAt(t0, 99, 100))),
		"ticks/MarketTrade/bitflyer-2024-03-01T10-00-00.000.gz": gz(t, jsonLines(t, tradeAt(t0.Add(time.Minute), 100))),
		"ticks/MarketTrade/other-2024-03-01T10-00-00.000.gz":    gz(t, jsonLines(t, tradeAt(t0, 1))),
	}}
	src := BlobSource{Reader: blobs, Prefix: "/ticks/", Venue: "bitflyer"}

	files, err := src.Files(context.Background(), domain.KindRate)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ticks/Rate/bitflyer-2024-03-01T09-00-00.000.gz",
		"ticks/Rate/bitflyer-2024-03-01T10-00-00.000.gz",
	}, files)

	var mids []float64
	strategy := domain.SinkFunc(func(_ context.Context, ev domain.Event) error {
		if r, ok := ev.(domain.Rate); ok {
			mids = append(mids, r.MidPrice)
		}
		return nil
	})
	simulator := sim.New(domain.VenueBitflyer, sim.DefaultLatency(), domain.Identity{}, discardLogger())
	sum, err := NewRunner(Config{}, src, simulator, strategy, nil, discardLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Rates)
	assert.Equal(t, int64(1), sum.Trades)
	assert.Equal(t, []float64{99.5, 100.5}, mids)
}
