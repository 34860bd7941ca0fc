package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tickerplant/internal/backtest"
	s3blob "github.com/alanyoungcy/tickerplant/internal/blob/s3"
	"github.com/alanyoungcy/tickerplant/internal/book"
	"github.com/alanyoungcy/tickerplant/internal/bus"
	"github.com/alanyoungcy/tickerplant/internal/config"
	"github.com/alanyoungcy/tickerplant/internal/domain"
	"github.com/alanyoungcy/tickerplant/internal/feed"
	"github.com/alanyoungcy/tickerplant/internal/notify"
	"github.com/alanyoungcy/tickerplant/internal/pipeline"
	"github.com/alanyoungcy/tickerplant/internal/platform/bitflyer"
	"github.com/alanyoungcy/tickerplant/internal/server"
	"github.com/alanyoungcy/tickerplant/internal/server/handler"
	"github.com/alanyoungcy/tickerplant/internal/server/ws"
	"github.com/alanyoungcy/tickerplant/internal/service"
	"github.com/alanyoungcy/tickerplant/internal/sim"
	"github.com/alanyoungcy/tickerplant/internal/strategy"
	"github.com/alanyoungcy/tickerplant/internal/ticklog"
)

const heartbeatInterval = 10 * time.Second

// RecordMode runs the live feed and fans its events out to every enabled
// sink, with the HTTP API alongside.
func (a *App) RecordMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting record mode")
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startRecording(ctx, g, deps, nil); err != nil {
		return err
	}
	return g.Wait()
}

// ArchiveMode ships rotated tick files to object storage on the configured
// cron schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	g, ctx := errgroup.WithContext(ctx)

	archiver := a.startArchiver(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, server.Handlers{
			Health:  handler.NewHealthHandler(deps.Checks, a.logger),
			Status:  &handler.StatusHandler{Mode: a.cfg.Mode, Venue: a.cfg.Venue, StartedAt: a.startedAt},
			Books:   handler.NewBookHandler(book.NewManager(deps.Identity)),
			Archive: handler.NewArchiveHandler(archiver, a.logger),
		}, nil)
	}
	return g.Wait()
}

// FullMode is record mode plus the archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	archiver := a.startArchiver(ctx, g, deps)
	if err := a.startRecording(ctx, g, deps, archiver); err != nil {
		return err
	}
	return g.Wait()
}

// BacktestMode replays recorded tick files through the simulator and the
// configured strategy, then prints the summary as JSON on stdout.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting backtest mode")

	since, until, err := a.cfg.Backtest.Window()
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	simulator := sim.New(a.cfg.Venue, latency(a.cfg.Strategy), deps.Identity, a.logger)
	engine, err := a.newEngine(ctx, simulator)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	var src backtest.Source
	switch a.cfg.Backtest.Source {
	case "s3":
		if deps.BlobReader == nil {
			return fmt.Errorf("app: backtest from s3: %w", domain.ErrDisabled)
		}
		src = backtest.BlobSource{Reader: deps.BlobReader, Prefix: a.cfg.Archive.Prefix, Venue: a.cfg.Venue}
	default:
		dir := a.cfg.Backtest.Dir
		if dir == "" {
			dir = a.cfg.Ticklog.Dir
		}
		src = backtest.DirSource{Root: dir, Venue: a.cfg.Venue}
	}

	var orders domain.OrderStore
	if a.cfg.Backtest.Persist {
		if deps.OrderStore == nil {
			return fmt.Errorf("app: persist backtest orders: %w", domain.ErrDisabled)
		}
		orders = deps.OrderStore
	}

	runner := backtest.NewRunner(backtest.Config{Since: since, Until: until}, src, simulator, engine, orders, a.logger)
	summary, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("app: backtest: %w", err)
	}
	stats := engine.Stats()
	a.logger.InfoContext(ctx, "backtest complete",
		slog.String("strategy", stats.Active),
		slog.Int64("strategy_events", stats.Events),
		slog.Int64("strategy_errors", stats.Errors),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("app: print summary: %w", err)
	}

	if deps.Notifier.Enabled() {
		msg := fmt.Sprintf("%d events replayed, %d filled, %d canceled, %d pending",
			summary.Events(), summary.Filled, summary.Canceled, summary.Pending)
		if err := deps.Notifier.Notify(ctx, notify.EventBacktestDone, "Backtest complete", msg); err != nil {
			a.logger.WarnContext(ctx, "backtest notification failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// startRecording builds the live pipeline: the feed session publishes into
// a bus whose sinks are registered in a fixed order. archiver may be nil.
func (a *App) startRecording(ctx context.Context, g *errgroup.Group, deps *Dependencies, archiver *pipeline.Archiver) error {
	books := book.NewManager(deps.Identity)
	events := bus.New(a.logger)

	if a.cfg.Ticklog.Enabled {
		tl, err := ticklog.New(ticklog.Config{
			Dir:          a.cfg.Ticklog.Dir,
			Venue:        a.cfg.Venue,
			BookThrottle: a.cfg.Ticklog.BookThrottle.Duration,
			Rotation: ticklog.RotationConfig{
				MaxSizeMB:  a.cfg.Ticklog.MaxSizeMB,
				MaxBackups: a.cfg.Ticklog.MaxBackups,
				Compress:   a.cfg.Ticklog.Compress,
				Daily:      a.cfg.Ticklog.Daily,
			},
		}, a.logger)
		if err != nil {
			return fmt.Errorf("app: open tick files: %w", err)
		}
		a.closers = append(a.closers, func() { _ = tl.Close() })
		events.Register("ticklog", tl)
	}

	if deps.RateCache != nil {
		svc := service.NewMarketDataService(deps.RateCache, deps.BookCache, deps.SignalBus, a.cfg.Redis.OpTimeout.Duration, a.logger)
		events.Register("redis", svc)
	}

	if deps.TradeStore != nil {
		recorder := service.NewTradeRecorder(deps.TradeStore, a.cfg.Postgres.BatchSize, a.cfg.Postgres.FlushInterval.Duration, a.logger)
		events.Register("postgres", recorder)
		g.Go(func() error {
			return recorder.Run(ctx)
		})
	}

	if deps.Producer != nil {
		kinds := make([]domain.EventKind, 0, len(a.cfg.Kafka.Kinds))
		for _, k := range a.cfg.Kafka.Kinds {
			kinds = append(kinds, domain.EventKind(k))
		}
		events.Register("kafka", service.NewEventPublisher(deps.Producer, a.cfg.Kafka.TopicPrefix, kinds, a.logger))
	}

	hub := ws.NewHub(ws.Config{Mode: a.cfg.Mode, StartedAt: a.startedAt}, a.logger)
	events.Register("ws_hub", hub)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var exec domain.ExecutionClient
	if a.cfg.Strategy.Live {
		simulator := sim.New(a.cfg.Venue, latency(a.cfg.Strategy), deps.Identity, a.logger)
		engine, err := a.newEngine(ctx, simulator)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = engine.Close() })
		events.Register("simulator", simulator)
		events.Register("strategy", engine)
		exec = simulator
	}

	session := feed.NewSession(a.feedConfig(), bitflyer.NewWSClient(a.cfg.Feed.URL, a.logger), books, events, deps.Identity, a.logger)
	if deps.Notifier.Enabled() {
		alerts := notify.NewFeedAlerts(deps.Notifier, a.cfg.Notify.QueueSize, a.logger)
		alerts.Attach(session)
		g.Go(func() error {
			return alerts.Run(ctx)
		})
	}
	g.Go(func() error {
		return session.Run(ctx)
	})
	g.Go(func() error {
		return a.heartbeat(ctx, session, events)
	})

	if a.cfg.Server.Enabled {
		handlers := server.Handlers{
			Health: handler.NewHealthHandler(deps.Checks, a.logger),
			Status: &handler.StatusHandler{
				Mode:      a.cfg.Mode,
				Venue:     a.cfg.Venue,
				StartedAt: a.startedAt,
				Feed:      session,
				Books:     books,
				Sinks:     events,
			},
			Books: handler.NewBookHandler(books),
		}
		if deps.TradeStore != nil {
			handlers.Trades = handler.NewTradeHandler(deps.TradeStore, a.logger)
		}
		if deps.OrderStore != nil || exec != nil {
			handlers.Orders = handler.NewOrderHandler(deps.OrderStore, exec, a.logger)
		}
		if archiver != nil {
			handlers.Archive = handler.NewArchiveHandler(archiver, a.logger)
		}
		a.startHTTPServer(ctx, g, deps, handlers, hub)
	}
	return nil
}

// startArchiver runs the tick file archiver on its cron schedule.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) *pipeline.Archiver {
	ticks := s3blob.NewTickArchiver(deps.BlobWriter, deps.BlobReader, s3blob.TickArchiverConfig{
		Root:               a.cfg.Ticklog.Dir,
		Prefix:             a.cfg.Archive.Prefix,
		MultipartThreshold: int64(a.cfg.Archive.MultipartThresholdMB) << 20,
		DeleteLocal:        a.cfg.Archive.DeleteLocal,
	}, a.logger)
	archiver := pipeline.NewArchiver(ticks, a.cfg.Archive.MinAge.Duration, a.logger)
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron)
	})
	return archiver
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, handlers server.Handlers, hub *ws.Hub) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		Limiter:     deps.RateLimiter,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// heartbeat logs the session state and sink counters every ten seconds.
func (a *App) heartbeat(ctx context.Context, session *feed.Session, events *bus.Bus) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st := session.Status()
			a.logger.InfoContext(ctx, "heartbeat",
				slog.String("state", string(st.State)),
				slog.Int64("messages", st.Messages),
				slog.Int("reconnects", st.Reconnects),
				slog.Any("sinks", events.Stats()),
			)
		}
	}
}

// newEngine builds the configured strategy and activates it on an engine
// trading through exec.
func (a *App) newEngine(ctx context.Context, exec domain.ExecutionClient) (*strategy.Engine, error) {
	cfg := a.cfg.Strategy
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = cfg.Name
	}
	scfg := strategy.Config{
		Name:        cfg.Name,
		ModelID:     modelID,
		Instrument:  cfg.Instrument,
		Venue:       a.cfg.Venue,
		Size:        cfg.Size,
		MaxPosition: cfg.MaxPosition,
		Params:      cfg.Params,
	}

	registry := strategy.NewRegistry()
	switch cfg.Name {
	case strategy.MeanReversionName:
		s, err := strategy.NewMeanReversion(scfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		registry.Register(s)
	default:
		return nil, fmt.Errorf("app: strategy %q: %w", cfg.Name, domain.ErrNotFound)
	}

	engine := strategy.NewEngine(registry, exec, a.logger)
	if err := engine.SetActive(ctx, cfg.Name); err != nil {
		return nil, fmt.Errorf("app: activate strategy: %w", err)
	}
	return engine, nil
}

func (a *App) feedConfig() feed.Config {
	fc := a.cfg.Feed
	window := feed.DefaultMaintenanceWindow()
	if start, err := feed.ParseClock(fc.MaintenanceStart); err == nil {
		window.Start = start
	}
	window.Duration = fc.MaintenanceDuration.Duration
	window.Resume = fc.MaintenanceResume.Duration
	if loc, err := time.LoadLocation(fc.MaintenanceTZ); err == nil {
		window.Location = loc
	}
	return feed.Config{
		Channels:       fc.Channels,
		SettleDelay:    fc.SettleDelay.Duration,
		ErrorBackoff:   fc.ErrorBackoff.Duration,
		KickedCooldown: fc.KickedCooldown.Duration,
		ReconnectMin:   fc.ReconnectMin.Duration,
		ReconnectMax:   fc.ReconnectMax.Duration,
		Maintenance:    window,
	}
}

func latency(cfg config.StrategyConfig) sim.Latency {
	return sim.Latency{
		MarketSubmit:  cfg.MarketSubmitLatency.Duration,
		MarketReceive: cfg.MarketReceiveLatency.Duration,
		LimitSubmit:   cfg.LimitSubmitLatency.Duration,
		LimitReceive:  cfg.LimitReceiveLatency.Duration,
	}
}
