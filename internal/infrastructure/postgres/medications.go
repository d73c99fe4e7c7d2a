package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/saharacare/go-rxmind/internal/meddb"
)

// MedicationStore persists the knowledge base's local medication table.
type MedicationStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewMedicationStore(pool *pgxpool.Pool, logger *zap.Logger) *MedicationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MedicationStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("medication-store"),
	}
}

// LoadAll returns the full table, ordered for a stable index build.
func (s *MedicationStore) LoadAll(ctx context.Context) ([]meddb.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "medications_load_all")
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT name, common_dose, category, source
		FROM medications
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load medications: %w", err)
	}
	defer rows.Close()

	var entries []meddb.Entry
	for rows.Next() {
		var e meddb.Entry
		if err := rows.Scan(&e.Name, &e.CommonDose, &e.Category, &e.Source); err != nil {
			return nil, fmt.Errorf("scan medication row: %w", err)
		}
		entries = append(entries, e)
	}
	span.SetAttributes(attribute.Int("entries", len(entries)))
	return entries, rows.Err()
}

// Append inserts a new medication. Re-inserting an existing name is a no-op,
// so concurrent remote-lookup wins for the same drug never conflict.
func (s *MedicationStore) Append(ctx context.Context, e meddb.Entry) error {
	ctx, span := s.tracer.Start(ctx, "medications_append",
		trace.WithAttributes(attribute.String("name", e.Name)))
	defer span.End()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO medications (name, common_dose, category, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO NOTHING
	`, e.Name, e.CommonDose, e.Category, e.Source)
	if err != nil {
		return fmt.Errorf("append medication %s: %w", e.Name, err)
	}
	return nil
}
