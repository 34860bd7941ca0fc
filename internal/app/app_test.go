package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickerplant/internal/config"
	"github.com/alanyoungcy/tickerplant/internal/domain"
	"github.com/alanyoungcy/tickerplant/internal/notify"
	"github.com/alanyoungcy/tickerplant/internal/sim"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testApp(mut func(*config.Config)) *App {
	cfg := config.Defaults()
	if mut != nil {
		mut(&cfg)
	}
	return New(&cfg, discardLogger())
}

func testDeps() *Dependencies {
	return &Dependencies{
		Identity: domain.Identity{DataCenter: "dc", ProcessID: "p"},
		Notifier: notify.NewNotifier(nil, nil, discardLogger()),
	}
}

func TestFeedConfigMapsMaintenanceWindow(t *testing.T) {
	a := testApp(func(c *config.Config) {
		c.Feed.MaintenanceStart = "03:30"
		c.Feed.MaintenanceTZ = "Local"
	})
	fc := a.feedConfig()

	assert.Equal(t, 3*time.Hour+30*time.Minute, fc.Maintenance.Start)
	assert.Equal(t, 10*time.Minute, fc.Maintenance.Duration)
	assert.Equal(t, 15*time.Minute, fc.Maintenance.Resume)
	assert.Equal(t, time.Local, fc.Maintenance.Location)
	assert.Equal(t, 300*time.Second, fc.KickedCooldown)
	assert.Len(t, fc.Channels, 3)
}

func TestNewEngine(t *testing.T) {
	exec := sim.New(domain.VenueBitflyer, sim.DefaultLatency(), domain.Identity{}, discardLogger())

	engine, err := testApp(nil).newEngine(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, "mean_reversion", engine.ActiveName())
	require.NoError(t, engine.Close())

	_, err = testApp(func(c *config.Config) { c.Strategy.Name = "momentum" }).newEngine(context.Background(), exec)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBacktestModeRequiresBackends(t *testing.T) {
	a := testApp(func(c *config.Config) {
		c.Mode = "backtest"
		c.Backtest.Source = "s3"
	})
	err := a.BacktestMode(context.Background(), testDeps())
	require.ErrorIs(t, err, domain.ErrDisabled)

	a = testApp(func(c *config.Config) {
		c.Mode = "backtest"
		c.Backtest.Dir = t.TempDir()
		c.Backtest.Persist = true
	})
	err = a.BacktestMode(context.Background(), testDeps())
	require.ErrorIs(t, err, domain.ErrDisabled)
}

func TestBacktestModeOnEmptyDirectory(t *testing.T) {
	a := testApp(func(c *config.Config) {
		c.Mode = "backtest"
		c.Backtest.Dir = t.TempDir()
	})
	require.NoError(t, a.BacktestMode(context.Background(), testDeps()))
}

func TestLatencyFromConfig(t *testing.T) {
	l := latency(config.Defaults().Strategy)
	assert.Equal(t, sim.DefaultLatency(), l)
}
