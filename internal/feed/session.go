// Package feed runs the market-data session: it keeps a realtime connection
// alive, classifies inbound messages, drives the book manager and publishes
// normalized events.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tickerplant/internal/book"
	"github.com/alanyoungcy/tickerplant/internal/domain"
	"github.com/alanyoungcy/tickerplant/internal/platform/bitflyer"
)

// State is the session lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateKicked       State = "kicked"
	StateReconnecting State = "reconnecting"
)

// Transport is a single realtime connection. Receive must return promptly
// with an error once Close has been called.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, channel string) error
	Receive(ctx context.Context) (bitflyer.Message, error)
	Close() error
}

// Publisher receives every normalized event in emission order.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event)
}

// StateFunc observes state transitions. err is the cause of an Error or
// Kicked transition, nil otherwise.
type StateFunc func(from, to State, err error)

// Config holds the session timings and channel list.
type Config struct {
	Channels       []string
	SettleDelay    time.Duration
	ErrorBackoff   time.Duration
	KickedCooldown time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	Maintenance    MaintenanceWindow
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		SettleDelay:    3 * time.Second,
		ErrorBackoff:   time.Second,
		KickedCooldown: 300 * time.Second,
		ReconnectMin:   5 * time.Second,
		ReconnectMax:   30 * time.Second,
		Maintenance:    DefaultMaintenanceWindow(),
	}
}

// Status is a point-in-time view of the session for monitoring.
type Status struct {
	State      State     `json:"state"`
	Since      time.Time `json:"since"`
	Channels   []string  `json:"channels"`
	Reconnects int       `json:"reconnects"`
	Messages   int64     `json:"messages"`
	LastError  string    `json:"last_error,omitempty"`
}

// Session owns the feed connection lifecycle.
type Session struct {
	cfg       Config
	transport Transport
	books     *book.Manager
	pub       Publisher
	identity  domain.Identity
	logger    *slog.Logger
	onState   StateFunc
	onMaint   func(wait time.Duration)
	now       func() time.Time

	mu     sync.Mutex
	status Status

	closeOnce sync.Once
	done      chan struct{}
}

// NewSession creates a session. Run starts it.
func NewSession(cfg Config, transport Transport, books *book.Manager, pub Publisher, id domain.Identity, logger *slog.Logger) *Session {
	return &Session{
		cfg:       cfg,
		transport: transport,
		books:     books,
		pub:       pub,
		identity:  id,
		logger:    logger.With(slog.String("component", "feed_session")),
		now:       func() time.Time { return time.Now().UTC() },
		status: Status{
			State:    StateDisconnected,
			Channels: append([]string(nil), cfg.Channels...),
		},
		done: make(chan struct{}),
	}
}

// OnStateChange registers fn to observe transitions. Call before Run.
func (s *Session) OnStateChange(fn StateFunc) {
	s.onState = fn
}

// OnMaintenance registers fn to be told when a reconnect is deferred by the
// maintenance window. Call before Run.
func (s *Session) OnMaintenance(fn func(wait time.Duration)) {
	s.onMaint = fn
}

// Status returns a copy of the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Channels = append([]string(nil), s.status.Channels...)
	return st
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.State
}

// Run drives the session until ctx is cancelled or Disconnect is called.
// Transport failures never end Run; they move the session through Error
// (or Kicked) and Reconnecting back to Connecting.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.transport.Close() })
	defer stop()

	delay := s.cfg.ReconnectMin
	for {
		if s.stopped(ctx) {
			return s.finish(ctx)
		}

		s.setState(StateConnecting, nil)
		err := s.connect(ctx)
		if err == nil {
			s.setState(StateConnected, nil)
			delay = s.cfg.ReconnectMin
			err = s.readLoop(ctx)
		}
		_ = s.transport.Close()
		if s.stopped(ctx) {
			return s.finish(ctx)
		}

		if errors.Is(err, domain.ErrKicked) {
			s.setState(StateKicked, err)
			s.logger.Warn("kicked by venue, cooling down", slog.Duration("cooldown", s.cfg.KickedCooldown))
			if !s.sleep(ctx, s.cfg.KickedCooldown) {
				return s.finish(ctx)
			}
		} else {
			s.setState(StateError, err)
			s.logger.Warn("feed session error", slog.String("error", errString(err)))
			if !s.sleep(ctx, s.cfg.ErrorBackoff) {
				return s.finish(ctx)
			}
			if wait := s.cfg.Maintenance.WaitFor(s.now()); wait > 0 {
				s.logger.Info("inside maintenance window, waiting", slog.Duration("wait", wait))
				if s.onMaint != nil {
					s.onMaint(wait)
				}
				if !s.sleep(ctx, wait) {
					return s.finish(ctx)
				}
			}
		}

		s.setState(StateReconnecting, nil)
		s.mu.Lock()
		s.status.Reconnects++
		s.mu.Unlock()
		if !s.sleep(ctx, delay) {
			return s.finish(ctx)
		}
		delay = nextDelay(delay, s.cfg.ReconnectMin, s.cfg.ReconnectMax)
	}
}

// Disconnect stops the session and releases the connection. It is
// idempotent and safe to call from any goroutine in any state.
func (s *Session) Disconnect() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.transport.Close()
		s.setState(StateDisconnected, nil)
		s.logger.Info("feed session disconnected")
	})
	return err
}

func (s *Session) connect(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return err
	}
	if !s.sleep(ctx, s.cfg.SettleDelay) {
		return domain.ErrSessionClosed
	}
	for _, ch := range s.cfg.Channels {
		if err := s.transport.Subscribe(ctx, ch); err != nil {
			return err
		}
	}
	s.logger.Info("feed subscribed", slog.Int("channels", len(s.cfg.Channels)))
	return nil
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		msg, err := s.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrMalformed) {
				s.logger.Warn("dropping undecodable frame", slog.String("error", err.Error()))
				continue
			}
			return err
		}
		s.mu.Lock()
		s.status.Messages++
		s.mu.Unlock()

		if err := s.HandleMessage(ctx, msg); err != nil {
			if errors.Is(err, domain.ErrKicked) {
				return err
			}
			s.logger.Warn("dropping message",
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
		}
	}
}

// HandleMessage classifies one inbound message, updates the books and
// publishes the resulting events. Decode failures return an error wrapping
// domain.ErrMalformed and publish nothing; a kicked notification returns
// domain.ErrKicked.
func (s *Session) HandleMessage(ctx context.Context, msg bitflyer.Message) error {
	class, instrument := Classify(msg.Event)
	switch class {
	case ClassExecutions:
		var execs []bitflyer.Execution
		if err := json.Unmarshal(msg.Payload, &execs); err != nil {
			return fmt.Errorf("feed: decode executions: %v: %w", err, domain.ErrMalformed)
		}
		now := s.now()
		for _, e := range execs {
			s.pub.Publish(ctx, e.ToMarketTrade(s.identity, instrument, now))
		}
		return nil

	case ClassTicker:
		return nil

	case ClassBoardSnapshot:
		var b bitflyer.Board
		if err := json.Unmarshal(msg.Payload, &b); err != nil {
			return fmt.Errorf("feed: decode board snapshot: %v: %w", err, domain.ErrMalformed)
		}
		asks, bids := b.Levels()
		upd, err := s.books.ApplySnapshot(instrument, asks, bids)
		if err != nil {
			return err
		}
		s.pub.Publish(ctx, upd.Rate)
		s.pub.Publish(ctx, upd.Book)
		return nil

	case ClassBoard:
		if !s.books.HasSnapshot(instrument) {
			return nil
		}
		var b bitflyer.Board
		if err := json.Unmarshal(msg.Payload, &b); err != nil {
			return fmt.Errorf("feed: decode board: %v: %w", err, domain.ErrMalformed)
		}
		asks, bids := b.Levels()
		upd, applied, err := s.books.ApplyDelta(instrument, asks, bids)
		if err != nil || !applied {
			return err
		}
		if upd.RateChanged {
			s.pub.Publish(ctx, upd.Rate)
		}
		s.pub.Publish(ctx, upd.Book)
		return nil

	case ClassKicked:
		return fmt.Errorf("feed: %s: %w", msg.Event, domain.ErrKicked)

	default:
		return fmt.Errorf("feed: %q: %w", msg.Event, domain.ErrUnknownEvent)
	}
}

func (s *Session) setState(to State, cause error) {
	s.mu.Lock()
	from := s.status.State
	s.status.State = to
	s.status.Since = s.now()
	if cause != nil {
		s.status.LastError = cause.Error()
	}
	s.mu.Unlock()

	if from != to && s.onState != nil {
		s.onState(from, to, cause)
	}
}

func (s *Session) stopped(ctx context.Context) bool {
	select {
	case <-s.done:
		return true
	default:
		return ctx.Err() != nil
	}
}

func (s *Session) finish(ctx context.Context) error {
	s.setState(StateDisconnected, nil)
	select {
	case <-s.done:
		return nil
	default:
		return ctx.Err()
	}
}

// sleep waits for d and reports false if the session was stopped meanwhile.
func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !s.stopped(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

// nextDelay doubles the reconnect delay within [min, max].
func nextDelay(cur, lo, hi time.Duration) time.Duration {
	next := cur * 2
	if next < lo {
		next = lo
	}
	if hi > 0 && next > hi {
		next = hi
	}
	return next
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
