package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// TradeHandler serves recorded market trades.
type TradeHandler struct {
	trades domain.TradeStore
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades domain.TradeStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

// ListTrades returns an instrument's trades, newest first.
// GET /api/trades/{instrument}?limit=&offset=&since=&until=
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	instrument := r.PathValue("instrument")

	trades, err := h.trades.ListByInstrument(r.Context(), instrument, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed",
			slog.String("instrument", instrument),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.MarketTrade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}
