package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

type fakeTicks struct {
	cutoffs []time.Time
	res     domain.ArchiveResult
	err     error
}

func (f *fakeTicks) ArchiveTicks(_ context.Context, before time.Time) (domain.ArchiveResult, error) {
	f.cutoffs = append(f.cutoffs, before)
	return f.res, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestArchiverRunUsesMinAgeCutoff(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ticks := &fakeTicks{res: domain.ArchiveResult{Uploaded: 3}}
	a := NewArchiver(ticks, 2*time.Hour, testLogger())
	a.now = func() time.Time { return now }

	res, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Uploaded)
	assert.Equal(t, []time.Time{now.Add(-2 * time.Hour)}, ticks.cutoffs)
}

func TestArchiverRunWrapsError(t *testing.T) {
	boom := errors.New("boom")
	a := NewArchiver(&fakeTicks{err: boom}, 0, testLogger())
	_, err := a.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunCronRejectsBadExpression(t *testing.T) {
	a := NewArchiver(&fakeTicks{}, 0, testLogger())
	err := a.RunCron(context.Background(), "* * *")
	require.Error(t, err)
}

func TestRunCronStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewArchiver(&fakeTicks{}, 0, testLogger())
	assert.ErrorIs(t, a.RunCron(ctx, "0 3 * * *"), context.Canceled)
}

func TestCronNext(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 7, 30, 0, time.UTC) // Monday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2024, 1, 1, 10, 8, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)},
		{"30 9-17 * * 1-5", time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)},
		{"0 0 1 2 *", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"5,10 10 * * *", time.Date(2024, 1, 1, 10, 10, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := parseCron(tt.expr)
			require.NoError(t, err)
			got, err := s.next(base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCronErrors(t *testing.T) {
	for _, expr := range []string{"60 * * * *", "* 24 * * *", "*/0 * * * *", "a * * * *", "5-1 * * * *"} {
		_, err := parseCron(expr)
		assert.Error(t, err, expr)
	}
}

func TestRunCronRunsOnTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := &signalTicks{ran: make(chan struct{}, 1)}
	a := NewArchiver(ticks, 0, testLogger())
	assert.True(t, a.Trigger())
	assert.False(t, a.Trigger())

	done := make(chan error, 1)
	go func() { done <- a.RunCron(ctx, "0 0 1 1 *") }()

	select {
	case <-ticks.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered run did not happen")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type signalTicks struct {
	ran chan struct{}
}

func (s *signalTicks) ArchiveTicks(context.Context, time.Time) (domain.ArchiveResult, error) {
	s.ran <- struct{}{}
	return domain.ArchiveResult{}, nil
}
