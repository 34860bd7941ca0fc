package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// EventPublisher is an event sink that forwards every event to a message
// broker as JSON, keyed by instrument, on the topic "<prefix>.<kind>"
// (lower-cased kind, e.g. "tickerplant.marketbook").
type EventPublisher struct {
	producer domain.MessageProducer
	prefix   string
	kinds    map[domain.EventKind]bool
	logger   *slog.Logger
}

// NewEventPublisher creates an EventPublisher. When kinds is empty every
// kind is published.
func NewEventPublisher(producer domain.MessageProducer, prefix string, kinds []domain.EventKind, logger *slog.Logger) *EventPublisher {
	var allow map[domain.EventKind]bool
	if len(kinds) > 0 {
		allow = make(map[domain.EventKind]bool, len(kinds))
		for _, k := range kinds {
			allow[k] = true
		}
	}
	return &EventPublisher{
		producer: producer,
		prefix:   prefix,
		kinds:    allow,
		logger:   logger.With(slog.String("component", "event_publisher")),
	}
}

// Topic returns the topic events of kind are published on.
func (p *EventPublisher) Topic(kind domain.EventKind) string {
	return p.prefix + "." + strings.ToLower(string(kind))
}

// Accept implements domain.EventSink.
func (p *EventPublisher) Accept(ctx context.Context, ev domain.Event) error {
	if p.kinds != nil && !p.kinds[ev.Kind()] {
		return nil
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event_publisher: marshal %s: %w", ev.Kind(), err)
	}
	topic := p.Topic(ev.Kind())
	if err := p.producer.Send(ctx, topic, []byte(ev.Symbol()), value); err != nil {
		return fmt.Errorf("event_publisher: send %s: %w", topic, err)
	}
	return nil
}
