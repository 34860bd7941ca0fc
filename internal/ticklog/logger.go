// Package ticklog writes normalized events as JSON lines into rotating
// per-kind, per-venue files.
package ticklog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// Config locates and rotates the tick files. Files live at
// <Dir>/<Kind>/<venue>.
type Config struct {
	Dir          string
	Venue        string
	BookThrottle time.Duration
	Rotation     RotationConfig
}

// Path returns the active file path for kind.
func (c Config) Path(kind domain.EventKind) string {
	return filepath.Join(c.Dir, string(kind), c.Venue)
}

// Logger is an event sink writing each event to the file for its kind.
// MarketBook records are throttled per instrument; rates and trades are
// written as they arrive.
type Logger struct {
	cfg     Config
	writers map[domain.EventKind]*Writer
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	lastBook  map[string]time.Time
	written   map[domain.EventKind]int64
	throttled int64
}

// New opens the three tick files.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	l := &Logger{
		cfg:      cfg,
		writers:  make(map[domain.EventKind]*Writer, 3),
		logger:   logger.With(slog.String("component", "ticklog")),
		now:      time.Now,
		lastBook: make(map[string]time.Time),
		written:  make(map[domain.EventKind]int64, 3),
	}
	for _, kind := range []domain.EventKind{domain.KindMarketBook, domain.KindMarketTrade, domain.KindRate} {
		w, err := NewWriter(cfg.Path(kind), cfg.Rotation)
		if err != nil {
			_ = l.Close()
			return nil, err
		}
		l.writers[kind] = w
	}
	l.logger.Info("tick files opened", slog.String("dir", cfg.Dir), slog.String("venue", cfg.Venue))
	return l, nil
}

// Accept implements domain.EventSink.
func (l *Logger) Accept(_ context.Context, ev domain.Event) error {
	kind := ev.Kind()
	if kind == domain.KindMarketBook && !l.admitBook(ev.Symbol()) {
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ticklog: marshal %s: %w", kind, err)
	}
	w, ok := l.writers[kind]
	if !ok {
		return fmt.Errorf("ticklog: %s: %w", kind, domain.ErrUnknownEvent)
	}
	if err := w.WriteLine(data); err != nil {
		return err
	}

	l.mu.Lock()
	l.written[kind]++
	l.mu.Unlock()
	return nil
}

// admitBook reports whether more than the throttle interval has passed
// since the last book written for instrument, and records the write.
func (l *Logger) admitBook(instrument string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.lastBook[instrument]; ok && now.Sub(last) <= l.cfg.BookThrottle {
		l.throttled++
		return false
	}
	l.lastBook[instrument] = now
	return true
}

// Stats returns per-kind written counts and the number of throttled books.
func (l *Logger) Stats() (written map[domain.EventKind]int64, throttled int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[domain.EventKind]int64, len(l.written))
	for k, v := range l.written {
		out[k] = v
	}
	return out, l.throttled
}

// Close closes every tick file.
func (l *Logger) Close() error {
	var errs []error
	for _, w := range l.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
