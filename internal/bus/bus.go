// Package bus fans normalized events out to registered sinks.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

type entry struct {
	name string
	sink domain.EventSink
}

// SinkStats counts what one sink has seen.
type SinkStats struct {
	Name     string `json:"name"`
	Accepted int64  `json:"accepted"`
	Errors   int64  `json:"errors"`
}

// Bus delivers every published event to each registered sink, synchronously
// and in registration order, on the publishing goroutine. There is no
// buffering: a slow sink delays the publisher.
type Bus struct {
	mu     sync.Mutex
	sinks  []entry
	stats  map[string]*SinkStats
	logger *slog.Logger
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		stats:  make(map[string]*SinkStats),
		logger: logger.With(slog.String("component", "bus")),
	}
}

// Register appends sink to the delivery list under name.
func (b *Bus) Register(name string, sink domain.EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, entry{name: name, sink: sink})
	if _, ok := b.stats[name]; !ok {
		b.stats[name] = &SinkStats{Name: name}
	}
	b.logger.Info("sink registered", slog.String("sink", name), slog.Int("sinks", len(b.sinks)))
}

// Publish delivers ev to every sink. Sink errors are logged and do not stop
// delivery to the remaining sinks. The sink list is copied under the lock
// and invoked outside it, so a sink may publish or register re-entrantly.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) {
	b.mu.Lock()
	sinks := make([]entry, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()

	for _, e := range sinks {
		err := e.sink.Accept(ctx, ev)
		b.record(e.name, err)
		if err != nil {
			b.logger.Warn("sink rejected event",
				slog.String("sink", e.name),
				slog.String("kind", string(ev.Kind())),
				slog.String("instrument", ev.Symbol()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Len returns the number of registered sinks.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sinks)
}

// Stats returns per-sink counters in registration order.
func (b *Bus) Stats() []SinkStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SinkStats, 0, len(b.sinks))
	seen := make(map[string]bool, len(b.sinks))
	for _, e := range b.sinks {
		if seen[e.name] {
			continue
		}
		seen[e.name] = true
		out = append(out, *b.stats[e.name])
	}
	return out
}

func (b *Bus) record(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stats[name]
	if err != nil {
		st.Errors++
		return
	}
	st.Accepted++
}
