// Package pipeline runs scheduled background jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// Archiver ships rotated tick files to cold storage on a schedule.
type Archiver struct {
	ticks   domain.TickArchiver
	minAge  time.Duration
	logger  *slog.Logger
	now     func() time.Time
	trigger chan struct{}
}

// NewArchiver creates an Archiver. Only files older than minAge are
// shipped.
func NewArchiver(ticks domain.TickArchiver, minAge time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		ticks:   ticks,
		minAge:  minAge,
		logger:  logger.With(slog.String("component", "archiver")),
		now:     func() time.Time { return time.Now().UTC() },
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests an immediate run from RunCron. It reports false when a
// run is already queued.
func (a *Archiver) Trigger() bool {
	select {
	case a.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes a single archive run.
func (a *Archiver) Run(ctx context.Context) (domain.ArchiveResult, error) {
	cutoff := a.now().Add(-a.minAge)
	a.logger.Info("starting archive run", slog.Time("cutoff", cutoff))

	res, err := a.ticks.ArchiveTicks(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("pipeline: archive ticks before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete",
		slog.Int("uploaded", res.Uploaded),
		slog.Int("skipped", res.Skipped),
		slog.Int("removed", res.Removed),
		slog.Int64("bytes", res.Bytes),
	)
	return res, nil
}

// RunCron runs the archiver on a five-field cron schedule
// ("minute hour day-of-month month day-of-week") until ctx is cancelled.
// Trigger starts an extra run between scheduled ones. A failed run is
// logged and retried at the next trigger.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	schedule, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := schedule.next(a.now())
		if err != nil {
			return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
		}

		wait := next.Sub(a.now())
		a.logger.Debug("archiver waiting", slog.Time("next_run", next), slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-a.trigger:
			timer.Stop()
			a.runLogged(ctx)
		case <-timer.C:
			a.runLogged(ctx)
		}
	}
}

func (a *Archiver) runLogged(ctx context.Context) {
	if _, err := a.Run(ctx); err != nil {
		a.logger.Error("archive run failed", slog.String("error", err.Error()))
	}
}

// cronField is the set of values a field accepts; nil means any.
type cronField map[int]bool

func (f cronField) matches(v int) bool {
	return f == nil || f[v]
}

// parseCronField accepts "*", single values, "a-b" ranges, "*/n" and
// "a-b/n" steps, and comma-separated lists of those.
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return nil, nil
	}

	out := cronField{}
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)

		step := 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step %q", part)
			}
			step = n
			part = base
		}

		from, to := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return nil, fmt.Errorf("invalid range %q: %w", part, err)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return nil, fmt.Errorf("invalid range %q: %w", part, err)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q: %w", part, err)
			}
			from, to = v, v
		}

		if from < lo || to > hi || from > to {
			return nil, fmt.Errorf("value %q out of range %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			out[v] = true
		}
	}
	return out, nil
}

type cronSchedule struct {
	minute, hour, dayOfMonth, month, dayOfWeek cronField
}

func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, f := range fields {
		p, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return cronSchedule{}, fmt.Errorf("%s field: %w", names[i], err)
		}
		parsed[i] = p
	}

	return cronSchedule{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

func (c cronSchedule) matches(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// next returns the first matching minute strictly after the given time,
// searching at most one year ahead.
func (c cronSchedule) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if c.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching time within one year")
}
