package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

// Replayer re-runs dead-lettered deposits.
type Replayer interface {
	ReplayDeadLetters(ctx context.Context, limit int) (int, error)
}

// AdminHandler exposes operator reconciliation endpoints.
type AdminHandler struct {
	dlq      domain.DeadLetterQueue
	replayer Replayer
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler. replayer is nil when this process
// does not run the deposit watcher.
func NewAdminHandler(dlq domain.DeadLetterQueue, replayer Replayer, audit domain.AuditStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		dlq:      dlq,
		replayer: replayer,
		audit:    audit,
		logger:   logger.With(slog.String("handler", "admin")),
	}
}

// DeadLetters lists failed deposit credits, oldest first.
// GET /api/admin/dead-letters?limit
func (h *AdminHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	letters, err := h.dlq.List(r.Context(), opts.Limit)
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to list dead letters", err)
		return
	}
	if letters == nil {
		letters = []domain.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deadLetters": letters})
}

// Replay re-submits dead-lettered deposits.
// POST /api/admin/dead-letters/replay?limit
func (h *AdminHandler) Replay(w http.ResponseWriter, r *http.Request) {
	if h.replayer == nil {
		writeError(w, http.StatusServiceUnavailable, "deposit watcher is not running in this process")
		return
	}
	opts := parseListOpts(r)
	n, err := h.replayer.ReplayDeadLetters(r.Context(), opts.Limit)
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to replay dead letters", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credited": n})
}

// Audit lists recent audit entries, newest first.
// GET /api/admin/audit?limit&offset
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to list audit log", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
