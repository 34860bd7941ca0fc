package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/tickerplant/internal/book"
	"github.com/alanyoungcy/tickerplant/internal/bus"
	"github.com/alanyoungcy/tickerplant/internal/domain"
	"github.com/alanyoungcy/tickerplant/internal/feed"
)

// FeedSource exposes the feed session state.
type FeedSource interface {
	Status() feed.Status
}

// BookSource exposes the live books.
type BookSource interface {
	Instruments() []string
	Book(instrument string, depth int) (domain.MarketBook, bool)
}

// SinkSource exposes fan-out counters.
type SinkSource interface {
	Stats() []bus.SinkStats
}

// StatusHandler serves the process status.
type StatusHandler struct {
	Mode      string
	Venue     string
	StartedAt time.Time
	Feed      FeedSource
	Books     BookSource
	Sinks     SinkSource
}

type statusResponse struct {
	Mode          string          `json:"mode"`
	Venue         string          `json:"venue"`
	StartedAt     time.Time       `json:"started_at"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Feed          *feed.Status    `json:"feed,omitempty"`
	Rates         []domain.Rate   `json:"rates"`
	Sinks         []bus.SinkStats `json:"sinks,omitempty"`
}

// GetStatus reports the session state, subscribed channels and the latest
// rate of every instrument with a book.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:          h.Mode,
		Venue:         h.Venue,
		StartedAt:     h.StartedAt,
		UptimeSeconds: int64(time.Since(h.StartedAt).Seconds()),
		Rates:         []domain.Rate{},
	}
	if h.Feed != nil {
		st := h.Feed.Status()
		resp.Feed = &st
	}
	if h.Books != nil {
		for _, inst := range h.Books.Instruments() {
			if b, ok := h.Books.Book(inst, 1); ok {
				resp.Rates = append(resp.Rates, book.DeriveRate(b))
			}
		}
	}
	if h.Sinks != nil {
		resp.Sinks = h.Sinks.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
