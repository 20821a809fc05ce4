// Package archive keeps an optional PostgreSQL record of processed media.
package archive

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"media-annotator/internal/domain"
	"media-annotator/internal/labels"
)

// HistogramDims is the width of the per-entry class histogram vector.
const HistogramDims = 128

// Archive writes one row per processed entry.
type Archive struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Archive, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to archive: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping archive: %w", err)
	}
	return &Archive{pool: pool, now: time.Now}, nil
}

// Close releases the pool.
func (a *Archive) Close() {
	if a != nil && a.pool != nil {
		a.pool.Close()
	}
}

// EnsureSchema creates the vector extension and the media table if missing.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	_, err := a.pool.Exec(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS media_records (
            identity TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            kind TEXT NOT NULL,
            width INTEGER NOT NULL,
            height INTEGER NOT NULL,
            detection_count INTEGER NOT NULL,
            labels TEXT NOT NULL,
            class_histogram vector(%d),
            processed_at TIMESTAMPTZ NOT NULL,
            saved_path TEXT,
            saved_at TIMESTAMPTZ
        );
        CREATE INDEX IF NOT EXISTS idx_media_records_name ON media_records(name);
    `, HistogramDims))
	if err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// Record upserts the processed state of entry.
func (a *Archive) Record(ctx context.Context, entry domain.MediaEntry) error {
	_, err := a.pool.Exec(ctx, `
        INSERT INTO media_records
        (identity, name, kind, width, height, detection_count, labels, class_histogram, processed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (identity) DO UPDATE SET
            width = EXCLUDED.width,
            height = EXCLUDED.height,
            detection_count = EXCLUDED.detection_count,
            labels = EXCLUDED.labels,
            class_histogram = EXCLUDED.class_histogram,
            processed_at = EXCLUDED.processed_at`,
		recordArgs(entry, a.now())...)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", entry.Name(), err)
	}
	return nil
}

// MarkSaved stores the export destination of identity.
func (a *Archive) MarkSaved(ctx context.Context, identity, dest string) error {
	tag, err := a.pool.Exec(ctx,
		"UPDATE media_records SET saved_path = $2, saved_at = $3 WHERE identity = $1",
		identity, dest, a.now())
	if err != nil {
		return fmt.Errorf("failed to mark %s saved: %w", identity, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no archive record for %s", identity)
	}
	return nil
}

// Similar returns up to limit identities whose class mix is closest to entry.
func (a *Archive) Similar(ctx context.Context, entry domain.MediaEntry, limit int) ([]string, error) {
	rows, err := a.pool.Query(ctx, `
        SELECT identity FROM media_records
        WHERE identity <> $1 AND detection_count > 0
        ORDER BY class_histogram <=> $2
        LIMIT $3`,
		entry.Identity, pgvector.NewVector(Histogram(entry.Detections)), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar media: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func recordArgs(entry domain.MediaEntry, now time.Time) []any {
	return []any{
		entry.Identity,
		entry.Name(),
		string(entry.Kind),
		entry.Width,
		entry.Height,
		len(entry.Detections),
		labels.Format(entry.Detections),
		pgvector.NewVector(Histogram(entry.Detections)),
		now,
	}
}

// Histogram counts detections per class, folds class ids into HistogramDims
// buckets and scales the result to unit length. An empty input gives the
// zero vector.
func Histogram(detections []domain.Detection) []float32 {
	out := make([]float32, HistogramDims)
	for _, d := range detections {
		bucket := d.ClassID % HistogramDims
		if bucket < 0 {
			bucket += HistogramDims
		}
		out[bucket]++
	}

	var sum float64
	for _, v := range out {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i := range out {
		out[i] /= norm
	}
	return out
}
