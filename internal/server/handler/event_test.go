package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quantship/tradelife/internal/domain"
)

// fakeBus serves canned stream entries and records the cursor it was asked
// to read from.
type fakeBus struct {
	messages  []domain.StreamMessage
	gotLastID string
	gotCount  int
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (b *fakeBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	b.gotLastID = lastID
	b.gotCount = count
	return b.messages, nil
}

func streamPayload(t *testing.T, evt domain.TradeEvent) []byte {
	t.Helper()
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return data
}

func TestEventStreamCatchUp(t *testing.T) {
	bus := &fakeBus{
		messages: []domain.StreamMessage{
			{ID: "1-0", Payload: streamPayload(t, domain.TradeEvent{
				ID: "e1", SignalID: "s1", Type: domain.EventTP1Hit, Symbol: "EURUSD",
			})},
			{ID: "2-0", Payload: streamPayload(t, domain.TradeEvent{
				ID: "e2", SignalID: "s1", Type: domain.EventStoppedOut, Symbol: "EURUSD",
			})},
		},
	}
	h := NewEventHandler(nil, bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodGet, "/api/events/stream?after=0-0&limit=50", nil)
	rec := httptest.NewRecorder()
	h.Stream(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if bus.gotLastID != "0-0" || bus.gotCount != 50 {
		t.Fatalf("stream read called with lastID=%q count=%d", bus.gotLastID, bus.gotCount)
	}

	var body struct {
		Events []struct {
			ID    string            `json:"id"`
			Event domain.TradeEvent `json:"event"`
		} `json:"events"`
		Count int    `json:"count"`
		Next  string `json:"next"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 2 || len(body.Events) != 2 {
		t.Fatalf("count = %d, events = %d, want 2", body.Count, len(body.Events))
	}
	if body.Events[1].Event.Type != domain.EventStoppedOut {
		t.Fatalf("second event type = %s", body.Events[1].Event.Type)
	}
	if body.Next != "2-0" {
		t.Fatalf("next cursor = %q, want the last delivered ID", body.Next)
	}
}

func TestEventStreamWithoutBus(t *testing.T) {
	h := NewEventHandler(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodGet, "/api/events/stream", nil)
	rec := httptest.NewRecorder()
	h.Stream(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
