// Package sim simulates order execution against the normalized event
// stream for backtesting.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

var (
	_ domain.ExecutionClient = (*Simulator)(nil)
	_ domain.EventSink       = (*Simulator)(nil)
)

// FillFunc observes each order as it is filled.
type FillFunc func(ctx context.Context, o domain.Order)

// pendingSet keeps orders by id in submission order so fills are
// deterministic.
type pendingSet struct {
	byID  map[string]*domain.Order
	order []string
}

func newPendingSet() *pendingSet {
	return &pendingSet{byID: make(map[string]*domain.Order)}
}

func (p *pendingSet) add(o *domain.Order) {
	p.byID[o.ID] = o
	p.order = append(p.order, o.ID)
}

func (p *pendingSet) remove(id string) (*domain.Order, bool) {
	o, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	delete(p.byID, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return o, true
}

// each visits orders in submission order. Removing the visited order from
// within fn is allowed.
func (p *pendingSet) each(fn func(o *domain.Order)) {
	ids := append([]string(nil), p.order...)
	for _, id := range ids {
		if o, ok := p.byID[id]; ok {
			fn(o)
		}
	}
}

// Simulator is a deterministic matching engine. Market orders fill on the
// next Rate for their instrument and venue; limit orders fill on a crossing
// MarketTrade observed after the order was created. Fills are always full.
type Simulator struct {
	venue    string
	latency  Latency
	identity domain.Identity
	logger   *slog.Logger

	mu       sync.Mutex
	market   *pendingSet
	limit    *pendingSet
	resolved []domain.Order
	bestBid  float64
	bestAsk  float64
	onFill   []FillFunc
}

// New creates a Simulator for venue.
func New(venue string, latency Latency, id domain.Identity, logger *slog.Logger) *Simulator {
	return &Simulator{
		venue:    venue,
		latency:  latency,
		identity: id,
		logger:   logger.With(slog.String("component", "simulator")),
		market:   newPendingSet(),
		limit:    newPendingSet(),
		bestBid:  0,
		bestAsk:  math.Inf(1),
	}
}

// OnFill registers fn to be called for every fill, after the simulator's
// state has been updated.
func (s *Simulator) OnFill(fn FillFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFill = append(s.onFill, fn)
}

// SubmitOrder creates a New order and queues it with the market or limit
// orders according to its type.
func (s *Simulator) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.Order, error) {
	if err := validate(req); err != nil {
		return domain.Order{}, err
	}
	venue := req.Venue
	if venue == "" {
		venue = s.venue
	}

	o := &domain.Order{
		ID:              uuid.NewString(),
		Instrument:      req.Instrument,
		Venue:           venue,
		Side:            req.Side,
		Type:            req.Type,
		Price:           req.Price,
		Amount:          req.Amount,
		Status:          domain.OrderStatusNew,
		ModelID:         req.ModelID,
		Timestamp:       req.Timestamp,
		MarketCreatedAt: req.Timestamp,
		ReceivedAt:      req.Timestamp,
		UniversalID:     uuid.NewString(),
		DataCenter:      s.identity.DataCenter,
		ProcessID:       s.identity.ProcessID,
	}

	s.mu.Lock()
	if o.Type == domain.OrderTypeMarket {
		s.market.add(o)
	} else {
		s.limit.add(o)
	}
	out := *o
	s.mu.Unlock()

	s.logger.Debug("order submitted",
		slog.String("order_id", out.ID),
		slog.String("instrument", out.Instrument),
		slog.String("type", string(out.Type)),
		slog.String("side", out.Side.String()),
	)
	return out, nil
}

// CancelOrder removes a pending limit order and stamps it Canceled at ts,
// with the venue and acknowledgement times offset by the market latencies.
// An unknown id returns an error wrapping domain.ErrNotFound.
func (s *Simulator) CancelOrder(_ context.Context, ts time.Time, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.limit.remove(orderID)
	if !ok {
		return domain.Order{}, fmt.Errorf("sim: cancel order %s: %w", orderID, domain.ErrNotFound)
	}
	o.Status = domain.OrderStatusCanceled
	o.Timestamp = ts
	o.MarketCreatedAt = ts.Add(s.latency.MarketSubmit)
	o.ReceivedAt = o.MarketCreatedAt.Add(s.latency.MarketReceive)
	s.resolved = append(s.resolved, *o)
	return *o, nil
}

// GetOrderStatus returns a pending order by id.
func (s *Simulator) GetOrderStatus(_ context.Context, orderID string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.limit.byID[orderID]; ok {
		return *o, true
	}
	if o, ok := s.market.byID[orderID]; ok {
		return *o, true
	}
	return domain.Order{}, false
}

// GetPositions aggregates filled orders per instrument, venue and model.
func (s *Simulator) GetPositions(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	filled := make([]domain.Order, 0, len(s.resolved))
	for _, o := range s.resolved {
		if o.Status == domain.OrderStatusFilled {
			filled = append(filled, o)
		}
	}
	s.mu.Unlock()
	return Aggregate(filled), nil
}

// Resolved returns filled and canceled orders in resolution order.
func (s *Simulator) Resolved() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Order(nil), s.resolved...)
}

// Pending returns the number of pending market and limit orders.
func (s *Simulator) Pending() (market, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.market.byID), len(s.limit.byID)
}

// Accept implements domain.EventSink.
func (s *Simulator) Accept(ctx context.Context, ev domain.Event) error {
	s.Next(ctx, ev)
	return nil
}

// Next advances the simulation by one event: market orders first, then
// limit orders, then the remembered top of book.
func (s *Simulator) Next(ctx context.Context, ev domain.Event) {
	s.mu.Lock()
	var fills []domain.Order
	switch e := ev.(type) {
	case domain.Rate:
		fills = s.fillMarket(e)
		s.bestBid, s.bestAsk = e.BestBid, e.BestAsk
	case domain.MarketTrade:
		fills = s.fillLimit(e)
	}
	s.resolved = append(s.resolved, fills...)
	hooks := append([]FillFunc(nil), s.onFill...)
	s.mu.Unlock()

	for _, o := range fills {
		s.logger.Debug("order filled",
			slog.String("order_id", o.ID),
			slog.String("instrument", o.Instrument),
			slog.Float64("price", o.ExecutedPrice),
			slog.Float64("amount", o.ExecutedAmount),
		)
		for _, fn := range hooks {
			fn(ctx, o)
		}
	}
}

// BestBidAsk returns the last observed top of book.
func (s *Simulator) BestBidAsk() (bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestBid, s.bestAsk
}

// fillMarket fills every pending market order for the rate's instrument and
// venue. An order whose fill side is empty (infinite sentinel) stays pending.
func (s *Simulator) fillMarket(r domain.Rate) []domain.Order {
	var fills []domain.Order
	s.market.each(func(o *domain.Order) {
		if o.Instrument != r.Instrument || o.Venue != r.Venue {
			return
		}
		price := r.BestBid
		if o.Side > 0 {
			price = r.BestAsk
		}
		if math.IsInf(price, 0) || math.IsNaN(price) {
			return
		}
		s.market.remove(o.ID)
		o.Price = price
		fills = append(fills, fill(o, price, r.Timestamp))
	})
	return fills
}

// fillLimit fills every pending limit order crossed by the trade. Each order
// is matched independently; the trade's size is not consumed.
func (s *Simulator) fillLimit(t domain.MarketTrade) []domain.Order {
	var fills []domain.Order
	s.limit.each(func(o *domain.Order) {
		if o.Instrument != t.Instrument || o.Venue != t.Venue {
			return
		}
		if !o.MarketCreatedAt.Before(t.MarketCreatedAt) {
			return
		}
		crossed := (o.Side > 0 && t.Side < 0 && t.Price <= o.Price) ||
			(o.Side < 0 && t.Side > 0 && o.Price <= t.Price)
		if !crossed {
			return
		}
		s.limit.remove(o.ID)
		fills = append(fills, fill(o, o.Price, t.Timestamp))
	})
	return fills
}

func fill(o *domain.Order, price float64, receivedAt time.Time) domain.Order {
	o.Status = domain.OrderStatusFilled
	o.ExecutedPrice = price
	o.ExecutedAmount = o.Amount
	o.ReceivedAt = receivedAt
	return *o
}

func validate(req domain.OrderRequest) error {
	switch {
	case req.Instrument == "":
		return fmt.Errorf("sim: instrument required: %w", domain.ErrInvalidOrder)
	case req.Side != domain.SideBuy && req.Side != domain.SideSell:
		return fmt.Errorf("sim: side %d: %w", req.Side, domain.ErrInvalidOrder)
	case !(req.Amount > 0) || math.IsInf(req.Amount, 0):
		return fmt.Errorf("sim: amount %v: %w", req.Amount, domain.ErrInvalidOrder)
	case req.Type != domain.OrderTypeMarket && req.Type != domain.OrderTypeLimit:
		return fmt.Errorf("sim: order type %q: %w", req.Type, domain.ErrInvalidOrder)
	case req.Type == domain.OrderTypeLimit && (math.IsNaN(req.Price) || math.IsInf(req.Price, 0) || req.Price <= 0):
		return fmt.Errorf("sim: limit price %v: %w", req.Price, domain.ErrInvalidOrder)
	}
	return nil
}

type positionKey struct {
	instrument, venue, model string
}

// Aggregate nets filled orders into positions, sorted by instrument, venue
// and model. Sums are taken in decimal so long replays do not drift.
func Aggregate(filled []domain.Order) []domain.Position {
	type acc struct {
		amount, cost decimal.Decimal
		fills        int
	}
	sums := make(map[positionKey]*acc)
	for _, o := range filled {
		k := positionKey{o.Instrument, o.Venue, o.ModelID}
		a, ok := sums[k]
		if !ok {
			a = &acc{amount: decimal.Zero, cost: decimal.Zero}
			sums[k] = a
		}
		qty := decimal.NewFromFloat(o.ExecutedAmount).Mul(decimal.NewFromInt(int64(o.Side)))
		a.amount = a.amount.Add(qty)
		a.cost = a.cost.Add(qty.Mul(decimal.NewFromFloat(o.ExecutedPrice)))
		a.fills++
	}

	out := make([]domain.Position, 0, len(sums))
	for k, a := range sums {
		out = append(out, domain.Position{
			Instrument: k.instrument,
			Venue:      k.venue,
			ModelID:    k.model,
			Amount:     a.amount.InexactFloat64(),
			Cost:       a.cost.InexactFloat64(),
			Fills:      a.fills,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instrument != out[j].Instrument {
			return out[i].Instrument < out[j].Instrument
		}
		if out[i].Venue != out[j].Venue {
			return out[i].Venue < out[j].Venue
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out
}
