package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quantship/tradelife/internal/service"
)

// LedgerHandler serves the daily risk ledger.
type LedgerHandler struct {
	risk   *service.RiskService
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(risk *service.RiskService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		risk:   risk,
		logger: logHandler(logger, "ledger"),
	}
}

// Today returns the current UTC day's ledger. Days with no closes yet come
// back zeroed rather than as 404s.
// GET /api/ledger/today
func (h *LedgerHandler) Today(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.risk.Today(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read today ledger", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

// Recent returns the latest daily ledgers, newest first.
// GET /api/ledger/recent?limit=N
func (h *LedgerHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 30
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 365 {
			limit = n
		}
	}

	ledgers, err := h.risk.Recent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list recent ledgers", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list ledgers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ledgers": ledgers,
		"count":   len(ledgers),
	})
}
