package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/quantship/tradelife/internal/domain"
	"github.com/quantship/tradelife/internal/service"
)

// PauseHandler exposes the circuit-breaker state and the operator clear path.
type PauseHandler struct {
	risk   *service.RiskService
	logger *slog.Logger
}

// NewPauseHandler creates a PauseHandler.
func NewPauseHandler(risk *service.RiskService, logger *slog.Logger) *PauseHandler {
	return &PauseHandler{
		risk:   risk,
		logger: logHandler(logger, "pause"),
	}
}

// Status reports whether signal issuance is paused and why. This is what the
// signal issuer polls before submitting.
// GET /api/pause
func (h *PauseHandler) Status(w http.ResponseWriter, r *http.Request) {
	paused, reason, err := h.risk.PauseStatus(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "pause status", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to read pause status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"paused": paused,
		"reason": reason,
	})
}

// Clear lifts the circuit breaker. The engine never does this on its own, so
// the caller identifies themselves for the audit trail. Returns 409 when the
// breaker is not tripped.
// POST /api/pause/clear
func (h *PauseHandler) Clear(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Operator string `json:"operator"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.Operator == "" {
		body.Operator = "api"
	}

	if err := h.risk.ClearPause(r.Context(), body.Operator); err != nil {
		if errors.Is(err, domain.ErrNotPaused) {
			writeError(w, http.StatusConflict, "bot is not paused")
			return
		}
		h.logger.ErrorContext(r.Context(), "clear pause", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to clear pause")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"paused":     false,
		"cleared_by": body.Operator,
	})
}
