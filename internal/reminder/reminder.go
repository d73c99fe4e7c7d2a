// Package reminder materializes extracted medication entries into scheduled
// reminders and manages their lifecycle per user.
package reminder

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/saharacare/go-rxmind/internal/extract"
	"github.com/saharacare/go-rxmind/internal/timing"
)

// Status is the lifecycle state of a reminder.
type Status string

const (
	StatusActive Status = "active"
	StatusTaken  Status = "taken"
)

// DefaultDosage is shown when no dose was extracted.
const DefaultDosage = "as prescribed"

// Reminder is a single daily medication reminder. ID is deterministic for a
// given (user, medication, trigger time) triple.
type Reminder struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Medication  string           `json:"medication"`
	Dosage      string           `json:"dosage"`
	Trigger     timing.TimeOfDay `json:"trigger_time"`
	WindowLabel string           `json:"time_label"`
	WindowRange string           `json:"time_range"`
	StartDate   time.Time        `json:"start_date"`
	EndDate     *time.Time       `json:"end_date,omitempty"`
	Status      Status           `json:"status"`
}

// Expired reports whether the reminder's end date has passed.
func (r Reminder) Expired(now time.Time) bool {
	return r.EndDate != nil && now.After(*r.EndDate)
}

var reDurationSpan = regexp.MustCompile(`(?i)(\d+)\s*(day|week|month|year)`)

// durationDays per unit. Month and year are fixed approximations.
var durationDays = map[string]int{
	"day":   1,
	"week":  7,
	"month": 30,
	"year":  365,
}

// Materializer expands entries into concrete reminders, drawing each trigger
// minute uniformly from its window.
type Materializer struct {
	rand *rand.Rand
}

// NewMaterializer seeds from the clock. Tests inject their own source via
// NewMaterializerWithRand.
func NewMaterializer() *Materializer {
	return NewMaterializerWithRand(rand.New(rand.NewSource(time.Now().UnixNano())))
}

func NewMaterializerWithRand(r *rand.Rand) *Materializer {
	return &Materializer{rand: r}
}

// Materialize builds one reminder per (entry, window) pair. scanDate anchors
// the start date and the duration-derived end date.
func (m *Materializer) Materialize(userID string, entries []extract.Entry, scanDate time.Time) []Reminder {
	var reminders []Reminder
	for _, entry := range entries {
		endDate := endDateFor(entry.Duration, scanDate)

		dosage := entry.Dose
		if dosage == "" {
			dosage = DefaultDosage
		}

		windows := entry.Windows
		if len(windows) == 0 {
			windows = timing.Infer(entry.Frequency, entry.Meal)
		}

		for _, w := range windows {
			trigger := m.triggerWithin(w)
			reminders = append(reminders, Reminder{
				ID:          ReminderID(userID, entry.Name, trigger),
				UserID:      userID,
				Medication:  entry.Name,
				Dosage:      dosage,
				Trigger:     trigger,
				WindowLabel: w.Label,
				WindowRange: w.Range(),
				StartDate:   scanDate,
				EndDate:     endDate,
				Status:      StatusActive,
			})
		}
	}
	return reminders
}

// triggerWithin draws a minute uniformly from the inclusive window range.
func (m *Materializer) triggerWithin(w timing.Window) timing.TimeOfDay {
	span := int(w.End-w.Start) + 1
	if span <= 1 {
		return w.Start
	}
	return w.Start + timing.TimeOfDay(m.rand.Intn(span))
}

// ReminderID derives the deterministic id with whitespace normalized.
func ReminderID(userID, medication string, trigger timing.TimeOfDay) string {
	id := fmt.Sprintf("%s_%s_%s", userID, medication, trigger.String())
	return strings.ReplaceAll(id, " ", "_")
}

// endDateFor parses a duration like "5 days" or "2 weeks" relative to the
// scan date. Unparseable durations yield no end date.
func endDateFor(duration string, scanDate time.Time) *time.Time {
	m := reDurationSpan.FindStringSubmatch(duration)
	if m == nil {
		return nil
	}
	amount, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	days := durationDays[strings.ToLower(m[2])]
	end := scanDate.AddDate(0, 0, amount*days)
	return &end
}
