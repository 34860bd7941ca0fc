// Package book reconstructs per-instrument limit order books from snapshot
// and incremental messages and derives top-of-book rates.
package book

import (
	"fmt"
	"math"
	"sort"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// Ladder is one side of a book: a price-sorted map of price to size. A level
// with size zero is never stored.
type Ladder struct {
	sizes  map[float64]float64
	prices []float64 // ascending
}

// NewLadder returns an empty ladder.
func NewLadder() *Ladder {
	return &Ladder{sizes: make(map[float64]float64)}
}

// ValidateLevel rejects prices and sizes that cannot be placed under a total
// order: NaN or infinite prices, NaN, infinite or negative sizes.
func ValidateLevel(lvl domain.PriceLevel) error {
	if math.IsNaN(lvl.Price) || math.IsInf(lvl.Price, 0) {
		return fmt.Errorf("book: price %v: %w", lvl.Price, domain.ErrMalformed)
	}
	if math.IsNaN(lvl.Size) || math.IsInf(lvl.Size, 0) || lvl.Size < 0 {
		return fmt.Errorf("book: size %v at %v: %w", lvl.Size, lvl.Price, domain.ErrMalformed)
	}
	return nil
}

// Set upserts size at price. A size of zero removes the level.
func (l *Ladder) Set(price, size float64) error {
	if err := ValidateLevel(domain.PriceLevel{Price: price, Size: size}); err != nil {
		return err
	}
	i := sort.SearchFloat64s(l.prices, price)
	exists := i < len(l.prices) && l.prices[i] == price

	if size == 0 {
		if exists {
			delete(l.sizes, price)
			l.prices = append(l.prices[:i], l.prices[i+1:]...)
		}
		return nil
	}

	l.sizes[price] = size
	if !exists {
		l.prices = append(l.prices, 0)
		copy(l.prices[i+1:], l.prices[i:])
		l.prices[i] = price
	}
	return nil
}

// Get returns the size at price.
func (l *Ladder) Get(price float64) (float64, bool) {
	size, ok := l.sizes[price]
	return size, ok
}

// Len returns the number of populated levels.
func (l *Ladder) Len() int { return len(l.prices) }

// Min returns the lowest price, or +Inf when empty.
func (l *Ladder) Min() float64 {
	if len(l.prices) == 0 {
		return math.Inf(1)
	}
	return l.prices[0]
}

// Max returns the highest price, or -Inf when empty.
func (l *Ladder) Max() float64 {
	if len(l.prices) == 0 {
		return math.Inf(-1)
	}
	return l.prices[len(l.prices)-1]
}

// Ascending returns up to depth levels from the lowest price up. A depth of
// zero or less returns every level.
func (l *Ladder) Ascending(depth int) []domain.PriceLevel {
	n := clampDepth(depth, len(l.prices))
	out := make([]domain.PriceLevel, 0, n)
	for _, p := range l.prices[:n] {
		out = append(out, domain.PriceLevel{Price: p, Size: l.sizes[p]})
	}
	return out
}

// Descending returns up to depth levels from the highest price down.
func (l *Ladder) Descending(depth int) []domain.PriceLevel {
	n := clampDepth(depth, len(l.prices))
	out := make([]domain.PriceLevel, 0, n)
	for i := len(l.prices) - 1; i >= len(l.prices)-n; i-- {
		p := l.prices[i]
		out = append(out, domain.PriceLevel{Price: p, Size: l.sizes[p]})
	}
	return out
}

func clampDepth(depth, n int) int {
	if depth <= 0 || depth > n {
		return n
	}
	return depth
}
