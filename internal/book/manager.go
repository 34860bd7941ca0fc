package book

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

const (
	MiscSnapshot = "snapshot"
	MiscDiff     = "diff"
)

// Update is the outcome of a successful ApplySnapshot or ApplyDelta: an owned
// copy of the book, the rate derived from it, and whether the rate's best
// bid or best ask moved against the last one published for the instrument.
type Update struct {
	Book        domain.MarketBook
	Rate        domain.Rate
	RateChanged bool
}

type orderBook struct {
	header domain.Header
	asks   *Ladder
	bids   *Ladder

	lastBid float64
	lastAsk float64
}

// Manager owns the books of every instrument. Each Apply call is atomic with
// respect to concurrent readers; callers only ever receive copies.
type Manager struct {
	mu       sync.Mutex
	identity domain.Identity
	books    map[string]*orderBook
	now      func() time.Time
}

// NewManager creates a Manager that stamps records with id.
func NewManager(id domain.Identity) *Manager {
	return &Manager{
		identity: id,
		books:    make(map[string]*orderBook),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ApplySnapshot replaces the instrument's book wholesale. Zero-size entries
// are dropped. A malformed level rejects the whole snapshot and leaves the
// previous book untouched.
func (m *Manager) ApplySnapshot(instrument string, asks, bids []domain.PriceLevel) (Update, error) {
	if err := validateLevels(asks, bids); err != nil {
		return Update{}, err
	}

	ob := &orderBook{asks: NewLadder(), bids: NewLadder()}
	for _, lvl := range asks {
		_ = ob.asks.Set(lvl.Price, lvl.Size)
	}
	for _, lvl := range bids {
		_ = ob.bids.Set(lvl.Price, lvl.Size)
	}
	now := m.now()
	ob.header = m.identity.NewHeader(instrument, MiscSnapshot, now, now)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[instrument] = ob

	upd := ob.update()
	upd.RateChanged = true
	ob.lastBid, ob.lastAsk = upd.Rate.BestBid, upd.Rate.BestAsk
	return upd, nil
}

// ApplyDelta upserts each level into the instrument's existing book; a size
// of zero removes the level. Without a prior snapshot the delta is dropped
// and applied is false. There is no sequence or gap detection.
func (m *Manager) ApplyDelta(instrument string, asks, bids []domain.PriceLevel) (upd Update, applied bool, err error) {
	if err := validateLevels(asks, bids); err != nil {
		return Update{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ob, ok := m.books[instrument]
	if !ok {
		return Update{}, false, nil
	}
	for _, lvl := range asks {
		_ = ob.asks.Set(lvl.Price, lvl.Size)
	}
	for _, lvl := range bids {
		_ = ob.bids.Set(lvl.Price, lvl.Size)
	}
	ob.header = ob.header.Restamp(MiscDiff, m.now())

	upd = ob.update()
	if upd.Rate.BestBid != ob.lastBid || upd.Rate.BestAsk != ob.lastAsk {
		upd.RateChanged = true
		ob.lastBid, ob.lastAsk = upd.Rate.BestBid, upd.Rate.BestAsk
	}
	return upd, true, nil
}

// Book returns an owned copy of the instrument's book limited to depth
// levels per side (zero for all).
func (m *Manager) Book(instrument string, depth int) (domain.MarketBook, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ob, ok := m.books[instrument]
	if !ok {
		return domain.MarketBook{}, false
	}
	return ob.snapshot(depth), true
}

// HasSnapshot reports whether a snapshot has been applied for instrument.
func (m *Manager) HasSnapshot(instrument string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.books[instrument]
	return ok
}

// Instruments returns the instruments that currently have a book, sorted.
func (m *Manager) Instruments() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.books))
	for sym := range m.books {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (ob *orderBook) snapshot(depth int) domain.MarketBook {
	return domain.MarketBook{
		Header: ob.header,
		Asks:   ob.asks.Ascending(depth),
		Bids:   ob.bids.Descending(depth),
	}
}

func (ob *orderBook) update() Update {
	b := ob.snapshot(0)
	return Update{Book: b, Rate: DeriveRate(b)}
}

// DeriveRate computes the top of book. Empty sides yield -Inf (bid) and
// +Inf (ask); the mid price is then not a valid price and Rate.Quoted is
// false. The rate inherits the book's timestamps and misc tag under a fresh
// universal id.
func DeriveRate(b domain.MarketBook) domain.Rate {
	bid, ask := b.BestBid(), b.BestAsk()
	h := b.Header
	h.UniversalID = uuid.NewString()
	return domain.Rate{
		Header:   h,
		BestBid:  bid,
		BestAsk:  ask,
		MidPrice: (bid + ask) / 2,
	}
}

func validateLevels(asks, bids []domain.PriceLevel) error {
	for _, lvl := range asks {
		if err := ValidateLevel(lvl); err != nil {
			return err
		}
	}
	for _, lvl := range bids {
		if err := ValidateLevel(lvl); err != nil {
			return err
		}
	}
	return nil
}
