package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/saharacare/go-rxmind/internal/scancache"
)

// ScanStore is the durable layer behind the content-addressed scan cache.
type ScanStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewScanStore(pool *pgxpool.Pool, logger *zap.Logger) *ScanStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("scan-store"),
	}
}

// Get returns the record for the key, or nil when absent.
func (s *ScanStore) Get(ctx context.Context, key string) (*scancache.Record, error) {
	ctx, span := s.tracer.Start(ctx, "scan_cache_get",
		trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	rec := &scancache.Record{}
	err := s.pool.QueryRow(ctx, `
		SELECT key, version, text, entries, created_at
		FROM scan_cache
		WHERE key = $1
	`, key).Scan(&rec.Key, &rec.Version, &rec.Text, &rec.Entries, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scan cache %s: %w", key, err)
	}
	return rec, nil
}

// Put upserts the record. Two concurrent scans of the same image write the
// same key with the same content, so last-write-wins is safe here.
func (s *ScanStore) Put(ctx context.Context, rec scancache.Record) error {
	ctx, span := s.tracer.Start(ctx, "scan_cache_put",
		trace.WithAttributes(attribute.String("key", rec.Key)))
	defer span.End()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO scan_cache (key, version, text, entries, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			version = $2, text = $3, entries = $4, created_at = $5
	`, rec.Key, rec.Version, rec.Text, rec.Entries, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("write scan cache %s: %w", rec.Key, err)
	}
	return nil
}
