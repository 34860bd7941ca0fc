package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tickerplant/internal/bus"
	"github.com/alanyoungcy/tickerplant/internal/domain"
	"github.com/alanyoungcy/tickerplant/internal/sim"
)

const persistBatch = 500

// Config bounds a replay. Zero Since/Until leave that end open.
type Config struct {
	Since time.Time
	Until time.Time
}

// Summary reports the outcome of one replay.
type Summary struct {
	Rates     int64             `json:"rates"`
	Trades    int64             `json:"trades"`
	Skipped   int64             `json:"skipped"`
	First     time.Time         `json:"first"`
	Last      time.Time         `json:"last"`
	Filled    int               `json:"filled"`
	Canceled  int               `json:"canceled"`
	Pending   int               `json:"pending"`
	Persisted int               `json:"persisted"`
	Positions []domain.Position `json:"positions"`
	Elapsed   time.Duration     `json:"elapsed"`
}

// Events returns the number of replayed events.
func (s Summary) Events() int64 {
	return s.Rates + s.Trades
}

// Runner replays rates and trades, merged by receipt time, into the
// simulator and then the strategy sink. Resolved orders are persisted when
// an order store is configured.
type Runner struct {
	cfg       Config
	src       Source
	simulator *sim.Simulator
	strategy  domain.EventSink
	orders    domain.OrderStore
	logger    *slog.Logger
}

// NewRunner creates a Runner. orders may be nil.
func NewRunner(cfg Config, src Source, simulator *sim.Simulator, strategy domain.EventSink, orders domain.OrderStore, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		src:       src,
		simulator: simulator,
		strategy:  strategy,
		orders:    orders,
		logger:    logger.With(slog.String("component", "backtest")),
	}
}

// Run replays every recorded event and returns the summary.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	var sum Summary

	skip := func(name string, line int, err error) {
		sum.Skipped++
		r.logger.Warn("skipping undecodable record",
			slog.String("file", name),
			slog.Int("line", line),
			slog.String("error", err.Error()),
		)
	}
	rates, err := newKindStream(ctx, r.src, domain.KindRate, skip)
	if err != nil {
		return sum, err
	}
	trades, err := newKindStream(ctx, r.src, domain.KindMarketTrade, skip)
	if err != nil {
		return sum, err
	}
	m, err := newMerger(rates, trades)
	if err != nil {
		return sum, err
	}
	defer m.close()

	b := bus.New(r.logger)
	b.Register("simulator", r.simulator)
	if r.strategy != nil {
		b.Register("strategy", r.strategy)
	}

	r.logger.Info("replay started",
		slog.Time("since", r.cfg.Since),
		slog.Time("until", r.cfg.Until),
	)
	for n := 0; ; n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
		}
		ev, err := m.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, err
		}

		ts := ev.ReceivedAt()
		if !r.cfg.Since.IsZero() && ts.Before(r.cfg.Since) {
			continue
		}
		if !r.cfg.Until.IsZero() && !ts.Before(r.cfg.Until) {
			break
		}
		if sum.First.IsZero() {
			sum.First = ts
		}
		sum.Last = ts
		if ev.Kind() == domain.KindRate {
			sum.Rates++
		} else {
			sum.Trades++
		}
		b.Publish(ctx, ev)
	}

	resolved := r.simulator.Resolved()
	for _, o := range resolved {
		if o.Status == domain.OrderStatusFilled {
			sum.Filled++
		} else {
			sum.Canceled++
		}
	}
	market, limit := r.simulator.Pending()
	sum.Pending = market + limit
	if sum.Positions, err = r.simulator.GetPositions(ctx); err != nil {
		return sum, fmt.Errorf("backtest: positions: %w", err)
	}

	if r.orders != nil && len(resolved) > 0 {
		n, err := r.persist(ctx, resolved)
		sum.Persisted = n
		if err != nil {
			return sum, err
		}
	}
	sum.Elapsed = time.Since(started)

	r.logger.Info("replay finished",
		slog.Int64("rates", sum.Rates),
		slog.Int64("trades", sum.Trades),
		slog.Int64("skipped", sum.Skipped),
		slog.Int("filled", sum.Filled),
		slog.Int("canceled", sum.Canceled),
		slog.Int("pending", sum.Pending),
		slog.Int("persisted", sum.Persisted),
		slog.Duration("elapsed", sum.Elapsed),
	)
	return sum, nil
}

func (r *Runner) persist(ctx context.Context, orders []domain.Order) (int, error) {
	done := 0
	for start := 0; start < len(orders); start += persistBatch {
		end := min(start+persistBatch, len(orders))
		if err := r.orders.UpsertBatch(ctx, orders[start:end]); err != nil {
			return done, fmt.Errorf("backtest: persist orders: %w", err)
		}
		done = end
	}
	return done, nil
}
