package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quantship/tradelife/internal/domain"
	"github.com/quantship/tradelife/internal/service"
)

// EventHandler serves the append-only trade event feed.
type EventHandler struct {
	signals *service.SignalService
	bus     domain.EventBus
	logger  *slog.Logger
}

// NewEventHandler creates an EventHandler. The bus powers the stream tail
// endpoint and may be nil when no bus is wired.
func NewEventHandler(signals *service.SignalService, bus domain.EventBus, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		signals: signals,
		bus:     bus,
		logger:  logHandler(logger, "event"),
	}
}

// List returns the cross-signal event feed in append order.
// GET /api/events
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	events, err := h.signals.ListEvents(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list events", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// ListBySignal returns one signal's lifecycle events in append order.
// GET /api/positions/{id}/events
func (h *EventHandler) ListBySignal(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "position id required")
		return
	}

	events, err := h.signals.Events(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list signal events", slog.String("id", id), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"signal_id": id,
		"events":    events,
		"count":     len(events),
	})
}

// streamEntry is one durable stream record with its cursor ID.
type streamEntry struct {
	ID    string            `json:"id"`
	Event domain.TradeEvent `json:"event"`
}

// Stream returns events from the durable stream after the given cursor, for
// consumers catching up on what they missed while disconnected from the live
// channel. Poll with after=<last id>; after=0 starts from the oldest retained
// entry.
// GET /api/events/stream?after=0&limit=100
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not available")
		return
	}

	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	messages, err := h.bus.StreamRead(r.Context(), "events", after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read event stream", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to read event stream")
		return
	}

	entries := make([]streamEntry, 0, len(messages))
	next := after
	for _, msg := range messages {
		var evt domain.TradeEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			continue
		}
		entries = append(entries, streamEntry{ID: msg.ID, Event: evt})
		next = msg.ID
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"count":  len(entries),
		"next":   next,
	})
}
