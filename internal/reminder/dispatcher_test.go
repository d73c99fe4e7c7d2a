package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/saharacare/go-rxmind/internal/timing"
)

type capturePublisher struct {
	topic string
	key   []byte
	value []byte
	done  chan struct{}
	err   error
}

func newCapturePublisher(err error) *capturePublisher {
	return &capturePublisher{done: make(chan struct{}, 1), err: err}
}

func (p *capturePublisher) Publish(_ context.Context, topic string, key, value []byte) error {
	p.topic, p.key, p.value = topic, key, value
	p.done <- struct{}{}
	return p.err
}

func (p *capturePublisher) wait(t *testing.T) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish never happened")
	}
}

func TestDispatcherPublishesPerUserEvent(t *testing.T) {
	pub := newCapturePublisher(nil)
	d := NewDispatcher(pub, "reminders.fired", nil)

	d.Fire(Reminder{
		ID:         "alice_Amoxicillin_08:15",
		UserID:     "alice",
		Medication: "Amoxicillin",
		Dosage:     "500mg",
		Trigger:    timing.T(8, 15),
	})
	pub.wait(t)

	if pub.topic != "reminders.fired" {
		t.Errorf("topic = %q", pub.topic)
	}
	if string(pub.key) != "alice" {
		t.Errorf("key = %q, want user id", pub.key)
	}

	var event FiredEvent
	if err := json.Unmarshal(pub.value, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Message != "Time to take your Amoxicillin (500mg)" {
		t.Errorf("message = %q", event.Message)
	}
	if event.Time != "08:15" {
		t.Errorf("time = %q, want 08:15", event.Time)
	}
}

func TestDispatcherSwallowsPublishError(t *testing.T) {
	pub := newCapturePublisher(errors.New("broker down"))
	d := NewDispatcher(pub, "reminders.fired", nil)

	d.Fire(Reminder{ID: "x", UserID: "u", Medication: "A", Trigger: timing.T(9, 0)})
	pub.wait(t)
}
