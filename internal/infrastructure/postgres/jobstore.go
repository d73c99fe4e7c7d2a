package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/saharacare/go-rxmind/internal/reminder"
	"github.com/saharacare/go-rxmind/internal/timing"
)

// JobStore is the durable layer behind the reminder scheduler. Jobs saved
// here are re-registered after a restart.
type JobStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewJobStore(pool *pgxpool.Pool, logger *zap.Logger) *JobStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("job-store"),
	}
}

// Save upserts the job row. The scheduler's replace semantics map onto the
// primary key conflict update.
func (s *JobStore) Save(ctx context.Context, r reminder.Reminder) error {
	ctx, span := s.tracer.Start(ctx, "jobs_save",
		trace.WithAttributes(attribute.String("reminder_id", r.ID)))
	defer span.End()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO reminder_jobs
			(id, user_id, medication, dosage, trigger_minutes,
			 window_label, window_range, start_date, end_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			user_id = $2, medication = $3, dosage = $4, trigger_minutes = $5,
			window_label = $6, window_range = $7, start_date = $8,
			end_date = $9, status = $10, updated_at = NOW()
	`, r.ID, r.UserID, r.Medication, r.Dosage, int(r.Trigger),
		r.WindowLabel, r.WindowRange, r.StartDate, r.EndDate, string(r.Status))
	if err != nil {
		return fmt.Errorf("save job %s: %w", r.ID, err)
	}
	return nil
}

// Delete removes the job row; a missing row is not an error.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "jobs_delete",
		trace.WithAttributes(attribute.String("reminder_id", id)))
	defer span.End()

	if _, err := s.pool.Exec(ctx, `DELETE FROM reminder_jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// List returns every persisted job for restart recovery.
func (s *JobStore) List(ctx context.Context) ([]reminder.Reminder, error) {
	ctx, span := s.tracer.Start(ctx, "jobs_list")
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, medication, dosage, trigger_minutes,
		       window_label, window_range, start_date, end_date, status
		FROM reminder_jobs
		ORDER BY user_id, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []reminder.Reminder
	for rows.Next() {
		var (
			r       reminder.Reminder
			trigger int
			status  string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Medication, &r.Dosage, &trigger,
			&r.WindowLabel, &r.WindowRange, &r.StartDate, &r.EndDate, &status); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		r.Trigger = timing.TimeOfDay(trigger)
		r.Status = reminder.Status(status)
		jobs = append(jobs, r)
	}
	span.SetAttributes(attribute.Int("jobs", len(jobs)))
	return jobs, rows.Err()
}
