package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a reminder id does not exist for the user.
var ErrNotFound = errors.New("reminder not found")

// Firer receives reminders whose trigger time has arrived.
type Firer interface {
	Fire(r Reminder)
}

// Manager owns the per-user reminder collections. Every mutation of a single
// user's list happens under that user's lock, and job cancellation happens
// inside the same critical section so a fire can never race a delete.
type Manager struct {
	scheduler  *Scheduler
	dispatcher Firer
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	users map[string]*userState
}

type userState struct {
	mu        sync.Mutex
	reminders []Reminder
}

// NewManager wires the scheduler's fire path through the manager so expiry
// and deletion are checked before dispatch.
func NewManager(scheduler *Scheduler, dispatcher Firer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		scheduler:  scheduler,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
		users:      make(map[string]*userState),
	}
	scheduler.Bind(m.handleFire)
	return m
}

func (m *Manager) user(userID string) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.users[userID]
	if !ok {
		st = &userState{}
		m.users[userID] = st
	}
	return st
}

// SetForUser replaces the user's reminder list with the given set: previous
// jobs are cancelled and each new reminder is scheduled. A scheduling failure
// skips that one reminder; the rest still go through. Returns the reminders
// that were actually registered.
func (m *Manager) SetForUser(ctx context.Context, userID string, reminders []Reminder) []Reminder {
	st := m.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, old := range st.reminders {
		if err := m.scheduler.Cancel(ctx, old.ID); err != nil {
			m.logger.Warn("cancel of replaced reminder failed",
				zap.String("reminder_id", old.ID), zap.Error(err))
		}
	}

	kept := make([]Reminder, 0, len(reminders))
	for _, r := range reminders {
		if err := m.scheduler.Schedule(ctx, r); err != nil {
			m.logger.Warn("reminder skipped",
				zap.String("reminder_id", r.ID), zap.Error(err))
			continue
		}
		kept = append(kept, r)
	}
	st.reminders = kept
	return kept
}

// List returns a copy of the user's reminders.
func (m *Manager) List(userID string) []Reminder {
	st := m.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]Reminder, len(st.reminders))
	copy(out, st.reminders)
	return out
}

// MarkTaken transitions a reminder to taken.
func (m *Manager) MarkTaken(userID, id string) error {
	st := m.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := range st.reminders {
		if st.reminders[i].ID == id {
			st.reminders[i].Status = StatusTaken
			return nil
		}
	}
	return ErrNotFound
}

// Delete removes the reminder record and its scheduled job together.
func (m *Manager) Delete(ctx context.Context, userID, id string) error {
	st := m.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := range st.reminders {
		if st.reminders[i].ID != id {
			continue
		}
		if err := m.scheduler.Cancel(ctx, id); err != nil {
			m.logger.Warn("job cancel failed during delete",
				zap.String("reminder_id", id), zap.Error(err))
		}
		st.reminders = append(st.reminders[:i], st.reminders[i+1:]...)
		return nil
	}
	return ErrNotFound
}

// Restore reloads every persisted job at startup, rebuilding the per-user
// collections and re-registering the cron entries.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	jobs, err := m.scheduler.store.List(ctx)
	if err != nil {
		return 0, err
	}

	byUser := make(map[string][]Reminder)
	for _, job := range jobs {
		byUser[job.UserID] = append(byUser[job.UserID], job)
	}

	restored := 0
	for userID, reminders := range byUser {
		restored += len(m.SetForUser(ctx, userID, reminders))
	}
	m.logger.Info("reminder jobs restored", zap.Int("count", restored))
	return restored, nil
}

// handleFire runs on the scheduler's timer. It re-checks the record under the
// user lock so a concurrently deleted or expired reminder is never
// dispatched, then hands off to the dispatcher.
func (m *Manager) handleFire(r Reminder) {
	st := m.user(r.UserID)
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, current := range st.reminders {
		if current.ID != r.ID {
			continue
		}
		if current.Expired(m.now()) {
			m.logger.Debug("expired reminder suppressed",
				zap.String("reminder_id", r.ID))
			return
		}
		m.dispatcher.Fire(current)
		return
	}
}
