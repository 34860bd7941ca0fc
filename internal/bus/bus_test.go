package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func rate(sym string) domain.Rate {
	return domain.Rate{Header: domain.Header{Instrument: sym}}
}

func TestPublishPreservesOrderAcrossSinks(t *testing.T) {
	b := New(discardLogger())
	var calls []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		b.Register(name, domain.SinkFunc(func(_ context.Context, ev domain.Event) error {
			calls = append(calls, name+":"+ev.Symbol())
			return nil
		}))
	}

	b.Publish(context.Background(), rate("A"))
	b.Publish(context.Background(), rate("B"))

	assert.Equal(t, []string{
		"first:A", "second:A", "third:A",
		"first:B", "second:B", "third:B",
	}, calls)
	assert.Equal(t, 3, b.Len())
}

func TestPublishContinuesAfterSinkError(t *testing.T) {
	b := New(discardLogger())
	var got []string
	b.Register("failing", domain.SinkFunc(func(context.Context, domain.Event) error {
		return errors.New("boom")
	}))
	b.Register("ok", domain.SinkFunc(func(_ context.Context, ev domain.Event) error {
		got = append(got, ev.Symbol())
		return nil
	}))

	b.Publish(context.Background(), rate("A"))
	assert.Equal(t, []string{"A"}, got)

	stats := b.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, SinkStats{Name: "failing", Errors: 1}, stats[0])
	assert.Equal(t, SinkStats{Name: "ok", Accepted: 1}, stats[1])
}

func TestPublishAllowsReentrantPublish(t *testing.T) {
	b := New(discardLogger())
	var got []string
	b.Register("echo", domain.SinkFunc(func(ctx context.Context, ev domain.Event) error {
		got = append(got, ev.Symbol())
		if ev.Symbol() == "A" {
			b.Publish(ctx, rate("B"))
		}
		return nil
	}))

	b.Publish(context.Background(), rate("A"))
	assert.Equal(t, []string{"A", "B"}, got)
}

func TestPublishWithoutSinks(t *testing.T) {
	b := New(discardLogger())
	assert.NotPanics(t, func() { b.Publish(context.Background(), rate("A")) })
	assert.Empty(t, b.Stats())
}
