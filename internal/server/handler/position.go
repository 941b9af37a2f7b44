package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantship/tradelife/internal/domain"
	"github.com/quantship/tradelife/internal/service"
)

// PositionHandler serves position reads for dashboards.
type PositionHandler struct {
	signals *service.SignalService
	logger  *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(signals *service.SignalService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		signals: signals,
		logger:  logHandler(logger, "position"),
	}
}

// ListOpen returns every position still under management.
// GET /api/positions
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	positions, err := h.signals.ListOpen(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list open positions", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": positions,
		"count":     len(positions),
	})
}

// ListClosed returns closed positions for history views, newest first.
// GET /api/positions/closed
func (h *PositionHandler) ListClosed(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	positions, err := h.signals.ListClosed(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list closed positions", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": positions,
		"count":     len(positions),
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	})
}

// Get returns a single position by ID.
// GET /api/positions/{id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "position id required")
		return
	}

	pos, err := h.signals.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get position", slog.String("id", id), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
