package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// Trigger queues one background run and reports whether it was queued.
type Trigger interface {
	Trigger() bool
}

// ArchiveHandler starts archive runs on demand.
type ArchiveHandler struct {
	archiver Trigger
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archiver Trigger, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver, logger: logger}
}

// TriggerArchive queues a tick archive run.
// POST /api/archive/trigger
func (h *ArchiveHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	queued := h.archiver.Trigger()
	h.logger.InfoContext(r.Context(), "archive trigger requested", slog.Bool("queued", queued))

	status := "accepted"
	if !queued {
		status = "already_queued"
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       status,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
