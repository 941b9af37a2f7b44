package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantship/tradelife/internal/domain"
	"github.com/quantship/tradelife/internal/service"
)

// SignalHandler accepts new trade signals into the lifecycle.
type SignalHandler struct {
	signals *service.SignalService
	logger  *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(signals *service.SignalService, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{
		signals: signals,
		logger:  logHandler(logger, "signal"),
	}
}

// Create adopts a new signal. Rejected with 409 while the daily circuit
// breaker is paused and 422 for signals that fail validation.
// POST /api/signals
func (h *SignalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.CreateSignalInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	pos, err := h.signals.Create(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPaused):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrInvalidPosition):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "create signal",
				slog.String("symbol", in.Symbol), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to create signal")
		}
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}
