package strategy

import (
	"math"
	"sync"
	"time"
)

// PricePoint records a single price observation at a point in time.
type PricePoint struct {
	Price float64
	Time  time.Time
}

// PriceTracker keeps a sliding time window of prices per instrument.
// Windows are advanced by the observation timestamps, not the wall clock,
// so replayed data behaves like live data.
type PriceTracker struct {
	mu         sync.RWMutex
	history    map[string][]PricePoint
	windowSize time.Duration
}

// NewPriceTracker creates a PriceTracker with the given window.
func NewPriceTracker(windowSize time.Duration) *PriceTracker {
	return &PriceTracker{
		history:    make(map[string][]PricePoint),
		windowSize: windowSize,
	}
}

// Track records an observation and drops points older than the window
// relative to ts.
func (pt *PriceTracker) Track(instrument string, price float64, ts time.Time) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.history[instrument] = append(pt.history[instrument], PricePoint{Price: price, Time: ts})

	cutoff := ts.Add(-pt.windowSize)
	pts := pt.history[instrument]
	i := 0
	for i < len(pts) && pts[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		pt.history[instrument] = append([]PricePoint(nil), pts[i:]...)
	}
}

// Len returns the number of points in the window.
func (pt *PriceTracker) Len(instrument string) int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.history[instrument])
}

// History returns a copy of the window.
func (pt *PriceTracker) History(instrument string) []PricePoint {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	src := pt.history[instrument]
	if len(src) == 0 {
		return nil
	}
	out := make([]PricePoint, len(src))
	copy(out, src)
	return out
}

// Average returns the mean price in the window, or 0 when empty.
func (pt *PriceTracker) Average(instrument string) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	mean, _ := stats(pt.history[instrument])
	return mean
}

// Volatility returns the population standard deviation in the window, or
// 0 with fewer than two points.
func (pt *PriceTracker) Volatility(instrument string) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	_, sd := stats(pt.history[instrument])
	return sd
}

func stats(pts []PricePoint) (mean, stddev float64) {
	if len(pts) == 0 {
		return 0, 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Price
	}
	mean = sum / float64(len(pts))
	if len(pts) < 2 {
		return mean, 0
	}
	var variance float64
	for _, p := range pts {
		d := p.Price - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(pts)))
}
