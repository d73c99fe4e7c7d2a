package reminder

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobStore persists scheduled jobs so registrations survive restart.
type JobStore interface {
	Save(ctx context.Context, r Reminder) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Reminder, error)
}

// FireFunc is invoked on the cron timer when a reminder's trigger time
// arrives.
type FireFunc func(r Reminder)

// Scheduler registers one daily cron job per reminder id. Scheduling an id
// that already has a job replaces it, never duplicates it.
type Scheduler struct {
	cron   *cron.Cron
	store  JobStore
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	fire    FireFunc
}

// NewScheduler builds a stopped scheduler; call Start once a fire handler is
// bound.
func NewScheduler(store JobStore, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(),
		store:   store,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Bind sets the fire handler. Must be called before Start.
func (s *Scheduler) Bind(fire FireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fire = fire
}

// Start begins running registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the timer and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Schedule registers a daily job at the reminder's trigger time and persists
// it. An existing job with the same id is removed first.
func (s *Scheduler) Schedule(ctx context.Context, r Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fire == nil {
		return fmt.Errorf("schedule %s: no fire handler bound", r.ID)
	}

	if err := s.store.Save(ctx, r); err != nil {
		return fmt.Errorf("persist job %s: %w", r.ID, err)
	}

	if old, ok := s.entries[r.ID]; ok {
		s.cron.Remove(old)
	}

	spec := fmt.Sprintf("%d %d * * *", r.Trigger.Minute(), r.Trigger.Hour())
	job := r
	id, err := s.cron.AddFunc(spec, func() { s.dispatch(job) })
	if err != nil {
		return fmt.Errorf("register job %s: %w", r.ID, err)
	}
	s.entries[r.ID] = id

	s.logger.Debug("reminder scheduled",
		zap.String("reminder_id", r.ID),
		zap.String("trigger", r.Trigger.String()))
	return nil
}

// Cancel removes the job if present. A missing job is not an error.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove job %s: %w", id, err)
	}
	return nil
}

// Jobs returns the number of active cron registrations.
func (s *Scheduler) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) dispatch(r Reminder) {
	s.mu.Lock()
	fire := s.fire
	s.mu.Unlock()
	if fire != nil {
		fire(r)
	}
}
