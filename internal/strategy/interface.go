// Package strategy runs trading models against the normalized event
// stream, placing orders through an execution client.
package strategy

import (
	"context"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// Strategy reacts to market events. Orders go through exec, which is the
// simulator in backtests.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	OnRate(ctx context.Context, r domain.Rate, exec domain.ExecutionClient) error
	OnBook(ctx context.Context, b domain.MarketBook, exec domain.ExecutionClient) error
	OnTrade(ctx context.Context, t domain.MarketTrade, exec domain.ExecutionClient) error
	Close() error
}

// Config holds strategy configuration.
type Config struct {
	Name        string
	ModelID     string
	Instrument  string
	Venue       string
	Size        float64
	MaxPosition float64
	Params      map[string]any
}

// paramFloat reads a numeric parameter. TOML integers decode as int64.
func (c Config) paramFloat(key string, def float64) float64 {
	switch v := c.Params[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return def
}

func (c Config) paramInt(key string, def int) int {
	switch v := c.Params[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
