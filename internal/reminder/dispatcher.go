package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// EventPublisher delivers fired-reminder events downstream. Keys carry the
// user id so each user's events form one ordered stream.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// FiredEvent is the payload published when a reminder fires.
type FiredEvent struct {
	ReminderID string `json:"reminder_id"`
	UserID     string `json:"user_id"`
	Medication string `json:"medication"`
	Dosage     string `json:"dosage"`
	Time       string `json:"time"`
	Message    string `json:"message"`
}

// Dispatcher publishes fired reminders best-effort. Publishing runs off the
// timer goroutine and errors are logged, never propagated.
type Dispatcher struct {
	publisher EventPublisher
	topic     string
	timeout   time.Duration
	logger    *zap.Logger
}

func NewDispatcher(publisher EventPublisher, topic string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		publisher: publisher,
		topic:     topic,
		timeout:   5 * time.Second,
		logger:    logger,
	}
}

// Fire publishes the reminder event asynchronously.
func (d *Dispatcher) Fire(r Reminder) {
	event := FiredEvent{
		ReminderID: r.ID,
		UserID:     r.UserID,
		Medication: r.Medication,
		Dosage:     r.Dosage,
		Time:       r.Trigger.String(),
		Message:    fmt.Sprintf("Time to take your %s (%s)", r.Medication, r.Dosage),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("fired event encode failed",
			zap.String("reminder_id", r.ID), zap.Error(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.publisher.Publish(ctx, d.topic, []byte(r.UserID), payload); err != nil {
			d.logger.Warn("fired event publish failed",
				zap.String("reminder_id", r.ID),
				zap.String("user_id", r.UserID),
				zap.Error(err))
			return
		}
		d.logger.Debug("reminder fired",
			zap.String("reminder_id", r.ID),
			zap.String("user_id", r.UserID))
	}()
}
