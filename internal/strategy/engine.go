package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// EngineStats summarizes engine activity.
type EngineStats struct {
	Active string `json:"active"`
	Events int64  `json:"events"`
	Errors int64  `json:"errors"`
}

// Engine is an event sink that hands every event to the active strategy
// together with the execution client.
type Engine struct {
	registry *Registry
	exec     domain.ExecutionClient
	logger   *slog.Logger

	mu     sync.Mutex
	active Strategy
	events int64
	errors int64
}

var _ domain.EventSink = (*Engine)(nil)

// NewEngine creates an Engine with no active strategy.
func NewEngine(registry *Registry, exec domain.ExecutionClient, logger *slog.Logger) *Engine {
	return &Engine{
		registry: registry,
		exec:     exec,
		logger:   logger.With(slog.String("component", "strategy_engine")),
	}
}

// SetActive initializes the named strategy and makes it the receiver of
// subsequent events. The previous strategy, if any, is closed.
func (e *Engine) SetActive(ctx context.Context, name string) error {
	s, err := e.registry.Get(name)
	if err != nil {
		return fmt.Errorf("strategy: set active: %w", err)
	}
	if err := s.Init(ctx); err != nil {
		return fmt.Errorf("strategy: init %s: %w", name, err)
	}

	e.mu.Lock()
	prev := e.active
	e.active = s
	e.mu.Unlock()

	if prev != nil && prev != s {
		if err := prev.Close(); err != nil {
			e.logger.Warn("strategy close failed",
				slog.String("strategy", prev.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	e.logger.Info("active strategy changed", slog.String("strategy", name))
	return nil
}

// ActiveName returns the active strategy name, or "" when none is set.
func (e *Engine) ActiveName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return ""
	}
	return e.active.Name()
}

// Names lists the registered strategies.
func (e *Engine) Names() []string {
	return e.registry.List()
}

// Accept dispatches ev to the active strategy. Events arriving before a
// strategy is set are ignored.
func (e *Engine) Accept(ctx context.Context, ev domain.Event) error {
	e.mu.Lock()
	active := e.active
	if active != nil {
		e.events++
	}
	e.mu.Unlock()

	if active == nil {
		return nil
	}

	var err error
	switch v := ev.(type) {
	case domain.Rate:
		err = active.OnRate(ctx, v, e.exec)
	case domain.MarketBook:
		err = active.OnBook(ctx, v, e.exec)
	case domain.MarketTrade:
		err = active.OnTrade(ctx, v, e.exec)
	default:
		err = fmt.Errorf("%w: %T", domain.ErrUnknownEvent, ev)
	}
	if err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("strategy %s: %w", active.Name(), err)
	}
	return nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := EngineStats{Events: e.events, Errors: e.errors}
	if e.active != nil {
		st.Active = e.active.Name()
	}
	return st
}

// Close closes the active strategy.
func (e *Engine) Close() error {
	e.mu.Lock()
	active := e.active
	e.active = nil
	e.mu.Unlock()
	if active == nil {
		return nil
	}
	return active.Close()
}
