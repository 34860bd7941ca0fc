package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// MeanReversionName is the registry name of MeanReversion.
const MeanReversionName = "mean_reversion"

const (
	defaultStdDevThreshold = 2.0
	defaultLookbackWindow  = 5 * time.Minute
	defaultMinSamples      = 20
)

// MeanReversion buys when the mid price is well below its trailing mean and
// sells when it is well above. "Well" is measured in trailing standard
// deviations. Only one order is outstanding at a time and the net position
// is capped at MaxPosition in either direction.
//
// Params:
//   - "std_dev_threshold" (float): default 2.0
//   - "lookback_window" (duration string): default "5m"
//   - "min_samples" (int): observations needed before trading, default 20
type MeanReversion struct {
	cfg        Config
	tracker    *PriceTracker
	threshold  float64
	minSamples int
	logger     *slog.Logger

	pendingID string
}

var _ Strategy = (*MeanReversion)(nil)

// NewMeanReversion creates a MeanReversion strategy.
func NewMeanReversion(cfg Config, logger *slog.Logger) (*MeanReversion, error) {
	window := defaultLookbackWindow
	if v, ok := cfg.Params["lookback_window"].(string); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("strategy: mean_reversion lookback_window %q: %w", v, err)
		}
		window = d
	}
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("strategy: mean_reversion size must be positive, got %v", cfg.Size)
	}
	if cfg.Instrument == "" {
		return nil, fmt.Errorf("strategy: mean_reversion instrument is required")
	}
	if cfg.Venue == "" {
		cfg.Venue = domain.VenueBitflyer
	}
	if cfg.MaxPosition <= 0 {
		cfg.MaxPosition = cfg.Size
	}
	if cfg.ModelID == "" {
		cfg.ModelID = MeanReversionName
	}

	return &MeanReversion{
		cfg:        cfg,
		tracker:    NewPriceTracker(window),
		threshold:  cfg.paramFloat("std_dev_threshold", defaultStdDevThreshold),
		minSamples: cfg.paramInt("min_samples", defaultMinSamples),
		logger:     logger.With(slog.String("strategy", MeanReversionName)),
	}, nil
}

// Name returns the strategy identifier.
func (mr *MeanReversion) Name() string { return MeanReversionName }

// Init resets the trailing window.
func (mr *MeanReversion) Init(_ context.Context) error {
	mr.tracker = NewPriceTracker(mr.tracker.windowSize)
	mr.pendingID = ""
	return nil
}

// OnRate tracks the mid price and trades on large deviations.
func (mr *MeanReversion) OnRate(ctx context.Context, r domain.Rate, exec domain.ExecutionClient) error {
	if r.Instrument != mr.cfg.Instrument || r.Venue != mr.cfg.Venue || !r.Quoted() {
		return nil
	}

	mid := r.MidPrice
	avg := mr.tracker.Average(r.Instrument)
	vol := mr.tracker.Volatility(r.Instrument)
	samples := mr.tracker.Len(r.Instrument)
	mr.tracker.Track(r.Instrument, mid, r.Timestamp)

	if samples < mr.minSamples || vol == 0 || math.IsNaN(mid) {
		return nil
	}
	if mr.busy(ctx, exec) {
		return nil
	}

	deviation := (mid - avg) / vol
	var side domain.Side
	switch {
	case deviation <= -mr.threshold:
		side = domain.SideBuy
	case deviation >= mr.threshold:
		side = domain.SideSell
	default:
		return nil
	}

	pos, err := mr.position(ctx, exec)
	if err != nil {
		return err
	}
	if next := pos + float64(side)*mr.cfg.Size; math.Abs(next) > mr.cfg.MaxPosition+1e-12 {
		return nil
	}

	order, err := exec.SubmitOrder(ctx, domain.OrderRequest{
		Timestamp:  r.Timestamp,
		Instrument: mr.cfg.Instrument,
		Venue:      mr.cfg.Venue,
		Side:       side,
		Amount:     mr.cfg.Size,
		Type:       domain.OrderTypeMarket,
		ModelID:    mr.cfg.ModelID,
	})
	if err != nil {
		return fmt.Errorf("submit %s: %w", side, err)
	}
	mr.pendingID = order.ID

	mr.logger.Debug("mean reversion order",
		slog.String("instrument", mr.cfg.Instrument),
		slog.String("side", side.String()),
		slog.Float64("mid", mid),
		slog.Float64("avg", avg),
		slog.Float64("deviation", deviation),
		slog.String("order_id", order.ID),
	)
	return nil
}

// OnBook is a no-op; the strategy works on rates.
func (mr *MeanReversion) OnBook(_ context.Context, _ domain.MarketBook, _ domain.ExecutionClient) error {
	return nil
}

// OnTrade is a no-op; the strategy works on rates.
func (mr *MeanReversion) OnTrade(_ context.Context, _ domain.MarketTrade, _ domain.ExecutionClient) error {
	return nil
}

// Close releases nothing.
func (mr *MeanReversion) Close() error { return nil }

// busy reports whether the last submitted order is still open.
func (mr *MeanReversion) busy(ctx context.Context, exec domain.ExecutionClient) bool {
	if mr.pendingID == "" {
		return false
	}
	o, ok := exec.GetOrderStatus(ctx, mr.pendingID)
	if ok && !o.Status.Terminal() {
		return true
	}
	mr.pendingID = ""
	return false
}

func (mr *MeanReversion) position(ctx context.Context, exec domain.ExecutionClient) (float64, error) {
	positions, err := exec.GetPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("positions: %w", err)
	}
	for _, p := range positions {
		if p.Instrument == mr.cfg.Instrument && p.Venue == mr.cfg.Venue && p.ModelID == mr.cfg.ModelID {
			return p.Amount, nil
		}
	}
	return 0, nil
}
