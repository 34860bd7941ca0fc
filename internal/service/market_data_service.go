package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// Channel and stream names used on the signal bus.
const (
	ChannelRates = "rates"
	StreamTrades = "trades"
)

// MarketDataService is an event sink that keeps the latest books and rates in
// the cache layer and republishes rates and trades on the signal bus.
type MarketDataService struct {
	rates     domain.RateCache
	books     domain.BookCache
	bus       domain.SignalBus
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewMarketDataService creates a MarketDataService. Each cache operation is
// bounded by opTimeout so a slow backend cannot stall ingestion for long.
func NewMarketDataService(
	rates domain.RateCache,
	books domain.BookCache,
	bus domain.SignalBus,
	opTimeout time.Duration,
	logger *slog.Logger,
) *MarketDataService {
	return &MarketDataService{
		rates:     rates,
		books:     books,
		bus:       bus,
		opTimeout: opTimeout,
		logger:    logger.With(slog.String("component", "market_data_service")),
	}
}

// Accept implements domain.EventSink.
func (s *MarketDataService) Accept(ctx context.Context, ev domain.Event) error {
	if s.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
	}

	switch e := ev.(type) {
	case domain.Rate:
		return s.handleRate(ctx, e)
	case domain.MarketBook:
		if err := s.books.SetBook(ctx, e); err != nil {
			return fmt.Errorf("market_data_service: set book %s: %w", e.Instrument, err)
		}
		return nil
	case domain.MarketTrade:
		return s.handleTrade(ctx, e)
	default:
		return fmt.Errorf("market_data_service: %T: %w", ev, domain.ErrUnknownEvent)
	}
}

func (s *MarketDataService) handleRate(ctx context.Context, r domain.Rate) error {
	if err := s.rates.SetRate(ctx, r); err != nil {
		return fmt.Errorf("market_data_service: set rate %s: %w", r.Instrument, err)
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("market_data_service: marshal rate: %w", err)
	}
	if pubErr := s.bus.Publish(ctx, ChannelRates, payload); pubErr != nil {
		s.logger.WarnContext(ctx, "publish rate failed",
			slog.String("instrument", r.Instrument),
			slog.String("error", pubErr.Error()),
		)
	}
	return nil
}

func (s *MarketDataService) handleTrade(ctx context.Context, t domain.MarketTrade) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("market_data_service: marshal trade: %w", err)
	}
	stream := StreamTrades + ":" + t.Instrument
	if err := s.bus.StreamAppend(ctx, stream, payload); err != nil {
		return fmt.Errorf("market_data_service: append trade %s: %w", t.TradeID, err)
	}
	return nil
}

// LatestRate returns the cached rate for an instrument.
func (s *MarketDataService) LatestRate(ctx context.Context, venue, instrument string) (domain.Rate, error) {
	r, err := s.rates.GetRate(ctx, venue, instrument)
	if err != nil {
		return domain.Rate{}, fmt.Errorf("market_data_service: latest rate %s: %w", instrument, err)
	}
	return r, nil
}
