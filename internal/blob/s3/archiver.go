package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/quantship/tradelife/internal/domain"
)

// BlobWriter is the narrow upload surface the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves old trade events and closed positions to cold storage as
// JSONL objects, then deletes the archived rows from the primary store. Rows
// are only deleted after their upload succeeds, so a failed upload leaves
// everything queryable for the next pass.
type Archiver struct {
	writer    BlobWriter
	events    domain.EventStore
	positions domain.PositionStore
	retention time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewArchiver creates an Archiver that moves records older than retention.
func NewArchiver(writer BlobWriter, events domain.EventStore, positions domain.PositionStore,
	retention time.Duration, batchSize int, logger *slog.Logger) *Archiver {
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &Archiver{
		writer:    writer,
		events:    events,
		positions: positions,
		retention: retention,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run archives on a ticker until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-a.retention)
			if n, err := a.ArchiveEvents(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive events failed", slog.Any("error", err))
			} else if n > 0 {
				a.logger.InfoContext(ctx, "events archived", slog.Int64("count", n))
			}
			if n, err := a.ArchivePositions(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive positions failed", slog.Any("error", err))
			} else if n > 0 {
				a.logger.InfoContext(ctx, "positions archived", slog.Int64("count", n))
			}
		}
	}
}

// ArchiveEvents uploads events older than the cutoff to
// archive/events/YYYY-MM.jsonl and removes them from the store. Returns how
// many were archived.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	// Partition by the newest archived record so a batch never lands in a
	// future month's object.
	last := events[len(events)-1].CreatedAt
	path := archivePath("events", last)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	cutoff := last.Add(time.Nanosecond)
	if _, err := a.events.DeleteBefore(ctx, cutoff); err != nil {
		return int64(len(events)), fmt.Errorf("s3blob: prune archived events: %w", err)
	}
	return int64(len(events)), nil
}

// ArchivePositions uploads closed positions older than the cutoff to
// archive/positions/YYYY-MM.jsonl and removes them from the store. Returns
// how many were archived.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, before, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	last := *positions[len(positions)-1].ClosedAt
	path := archivePath("positions", last)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	cutoff := last.Add(time.Nanosecond)
	if _, err := a.positions.DeleteClosedBefore(ctx, cutoff); err != nil {
		return int64(len(positions)), fmt.Errorf("s3blob: prune archived positions: %w", err)
	}
	return int64(len(positions)), nil
}

// upload picks single-shot or multipart by payload size.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= minPartSize {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// archivePath builds the object key, partitioned by year-month:
//
//	archive/events/2026-03.jsonl
//	archive/positions/2026-03.jsonl
func archivePath(kind string, t time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, t.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact line
// per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
