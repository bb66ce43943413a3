package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// AuditHandler serves the append-only audit log.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

// ListAudit returns audit entries, optionally bounded by since/until and
// filtered by ?event=.
// GET /api/audit
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}

	event := r.URL.Query().Get("event")
	views := make([]auditView, 0, len(entries))
	for _, e := range entries {
		if event != "" && e.Event != event {
			continue
		}
		views = append(views, newAuditView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": views,
		"count":   len(views),
	})
}
