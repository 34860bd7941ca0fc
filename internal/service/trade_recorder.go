package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// TradeRecorder is an event sink that buffers market trades and writes them
// to the trade store in batches. A batch is flushed when it reaches
// batchSize, on every tick of Run, and on Close.
type TradeRecorder struct {
	store     domain.TradeStore
	batchSize int
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending []domain.MarketTrade
	stored  int64
}

// NewTradeRecorder creates a TradeRecorder.
func NewTradeRecorder(store domain.TradeStore, batchSize int, interval time.Duration, logger *slog.Logger) *TradeRecorder {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &TradeRecorder{
		store:     store,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger.With(slog.String("component", "trade_recorder")),
	}
}

// Accept implements domain.EventSink. Only MarketTrade events are recorded.
func (r *TradeRecorder) Accept(ctx context.Context, ev domain.Event) error {
	t, ok := ev.(domain.MarketTrade)
	if !ok {
		return nil
	}
	r.mu.Lock()
	r.pending = append(r.pending, t)
	full := len(r.pending) >= r.batchSize
	r.mu.Unlock()

	if full {
		return r.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered trade. On failure the batch is kept for the
// next attempt.
func (r *TradeRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := r.store.InsertBatch(ctx, batch); err != nil {
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return fmt.Errorf("trade_recorder: insert batch: %w", err)
	}

	r.mu.Lock()
	r.stored += int64(len(batch))
	r.mu.Unlock()
	r.logger.DebugContext(ctx, "trades stored", slog.Int("count", len(batch)))
	return nil
}

// Run flushes on every interval until ctx is cancelled, then flushes once
// more with a short grace period.
func (r *TradeRecorder) Run(ctx context.Context) error {
	if r.interval <= 0 {
		<-ctx.Done()
		return r.finalFlush()
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.finalFlush()
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.WarnContext(ctx, "periodic flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *TradeRecorder) finalFlush() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.Flush(ctx)
}

// Stats returns the number of buffered and stored trades.
func (r *TradeRecorder) Stats() (pending int, stored int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending), r.stored
}
