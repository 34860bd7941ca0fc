package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tickerplant/internal/feed"
)

type alert struct {
	event, title, message string
}

// FeedAlerts turns feed session transitions into notifications. The
// session calls its hooks on the ingestion goroutine, so alerts are queued
// and sent from Run; a full queue drops the alert.
type FeedAlerts struct {
	notifier *Notifier
	queue    chan alert
	dropped  atomic.Int64
	failing  atomic.Bool
	logger   *slog.Logger
}

// NewFeedAlerts creates FeedAlerts with room for size queued alerts.
func NewFeedAlerts(n *Notifier, size int, logger *slog.Logger) *FeedAlerts {
	if size <= 0 {
		size = 32
	}
	return &FeedAlerts{
		notifier: n,
		queue:    make(chan alert, size),
		logger:   logger.With(slog.String("component", "feed_alerts")),
	}
}

// Attach registers the alert hooks on s.
func (a *FeedAlerts) Attach(s *feed.Session) {
	s.OnStateChange(a.OnStateChange)
	s.OnMaintenance(a.OnMaintenance)
}

// OnStateChange is a feed.StateFunc.
func (a *FeedAlerts) OnStateChange(from, to feed.State, err error) {
	switch to {
	case feed.StateKicked:
		a.failing.Store(true)
		a.enqueue(EventFeedKicked, "Feed kicked", fmt.Sprintf("The venue closed the session: %s", errText(err)))
	case feed.StateError:
		a.failing.Store(true)
		a.enqueue(EventFeedError, "Feed error", fmt.Sprintf("Session failed in state %s: %s", from, errText(err)))
	case feed.StateConnected:
		// Only the first connect after a failure is worth a message.
		if a.failing.CompareAndSwap(true, false) {
			a.enqueue(EventFeedRecovered, "Feed recovered", "Session reconnected and subscribed")
		}
	}
}

// OnMaintenance reports a reconnect deferred by the maintenance window.
func (a *FeedAlerts) OnMaintenance(wait time.Duration) {
	a.enqueue(EventFeedMaintenance, "Feed maintenance", fmt.Sprintf("Venue maintenance, reconnecting in %s", wait.Round(time.Second)))
}

// Dropped returns how many alerts were discarded on a full queue.
func (a *FeedAlerts) Dropped() int64 {
	return a.dropped.Load()
}

func (a *FeedAlerts) enqueue(event, title, message string) {
	if !a.notifier.Allows(event) {
		return
	}
	select {
	case a.queue <- alert{event: event, title: title, message: message}:
	default:
		a.dropped.Add(1)
	}
}

// Run sends queued alerts until ctx is cancelled.
func (a *FeedAlerts) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case al := <-a.queue:
			sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			if err := a.notifier.Notify(sendCtx, al.event, al.title, al.message); err != nil {
				a.logger.Warn("alert not delivered",
					slog.String("event", al.event),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		}
	}
}

func errText(err error) string {
	if err == nil {
		return "unknown cause"
	}
	return err.Error()
}
