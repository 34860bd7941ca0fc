package feed

import (
	"fmt"
	"time"
)

// MaintenanceWindow is a daily period during which the venue is expected to
// be unreachable. Reconnection after an error inside the window is held back
// until Start+Resume. The check is clock-based only.
type MaintenanceWindow struct {
	Start    time.Duration // offset from midnight
	Duration time.Duration
	Resume   time.Duration // offset from Start at which reconnecting resumes
	Location *time.Location
}

// DefaultMaintenanceWindow is bitFlyer's nightly window: 19:00-19:10 UTC,
// reconnecting from 19:15 UTC.
func DefaultMaintenanceWindow() MaintenanceWindow {
	return MaintenanceWindow{
		Start:    19 * time.Hour,
		Duration: 10 * time.Minute,
		Resume:   15 * time.Minute,
		Location: time.UTC,
	}
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("feed: parse clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// WaitFor returns how long to hold off reconnecting at now, or zero when now
// is outside the window.
func (w MaintenanceWindow) WaitFor(now time.Time) time.Duration {
	if w.Duration <= 0 {
		return 0
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	resume := w.Resume
	if resume < w.Duration {
		resume = w.Duration
	}
	// Check yesterday's window too so a window spanning midnight is honored.
	for _, start := range []time.Time{midnight.Add(w.Start), midnight.AddDate(0, 0, -1).Add(w.Start)} {
		if !local.Before(start) && local.Before(start.Add(w.Duration)) {
			return start.Add(resume).Sub(local)
		}
	}
	return 0
}
