package sim

import "time"

// Latency parameterizes the timestamps stamped on simulated orders. It never
// causes the simulator to wait.
type Latency struct {
	MarketSubmit  time.Duration
	MarketReceive time.Duration
	LimitSubmit   time.Duration
	LimitReceive  time.Duration
}

// DefaultLatency is 100ms to reach the venue and 1s for the acknowledgement.
func DefaultLatency() Latency {
	return Latency{
		MarketSubmit:  100 * time.Millisecond,
		MarketReceive: time.Second,
		LimitSubmit:   100 * time.Millisecond,
		LimitReceive:  time.Second,
	}
}
