package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// OrderHandler serves simulated orders and positions.
type OrderHandler struct {
	orders domain.OrderStore
	exec   domain.ExecutionClient
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler. Either dependency may be nil,
// in which case its endpoints answer 503.
func NewOrderHandler(orders domain.OrderStore, exec domain.ExecutionClient, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, exec: exec, logger: logger}
}

// ListOrders returns stored orders of one model.
// GET /api/orders?model_id=...
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeError(w, http.StatusServiceUnavailable, "order store not configured")
		return
	}
	modelID := r.URL.Query().Get("model_id")
	if modelID == "" {
		writeError(w, http.StatusBadRequest, "model_id query parameter required")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := h.orders.ListByModel(r.Context(), modelID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list orders failed",
			slog.String("model_id", modelID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// ListPositions returns the positions of the live execution client.
// GET /api/positions
func (h *OrderHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	if h.exec == nil {
		writeError(w, http.StatusServiceUnavailable, "execution client not configured")
		return
	}
	positions, err := h.exec.GetPositions(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}
