package reminder

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saharacare/go-rxmind/internal/extract"
	"github.com/saharacare/go-rxmind/internal/timing"
)

type memStore struct {
	mu       sync.Mutex
	jobs     map[string]Reminder
	failSave map[string]bool
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]Reminder), failSave: make(map[string]bool)}
}

func (s *memStore) Save(_ context.Context, r Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave[r.ID] {
		return errors.New("store unavailable")
	}
	s.jobs[r.ID] = r
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memStore) List(_ context.Context) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reminder, 0, len(s.jobs))
	for _, r := range s.jobs {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

type recordingFirer struct {
	mu    sync.Mutex
	fired []Reminder
}

func (f *recordingFirer) Fire(r Reminder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, r)
}

func (f *recordingFirer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func testMaterializer() *Materializer {
	return NewMaterializerWithRand(rand.New(rand.NewSource(1)))
}

func TestMaterializeEndDateFromDuration(t *testing.T) {
	scanDate := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	entries := []extract.Entry{
		{Name: "Amoxicillin", Dose: "500mg", Frequency: "twice daily", Duration: "7 days"},
	}

	reminders := testMaterializer().Materialize("alice", entries, scanDate)
	if len(reminders) != 2 {
		t.Fatalf("expected 2 reminders, got %d", len(reminders))
	}
	want := scanDate.AddDate(0, 0, 7)
	for _, r := range reminders {
		if r.EndDate == nil || !r.EndDate.Equal(want) {
			t.Errorf("end date = %v, want %v", r.EndDate, want)
		}
	}
}

func TestMaterializeDurationUnits(t *testing.T) {
	scanDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		duration string
		days     int
	}{
		{"1 week", 7},
		{"2 months", 60},
		{"1 year", 365},
	}
	for _, tc := range cases {
		entries := []extract.Entry{{Name: "Metformin", Dose: "500mg", Duration: tc.duration}}
		reminders := testMaterializer().Materialize("alice", entries, scanDate)
		if len(reminders) == 0 {
			t.Fatalf("%s: no reminders", tc.duration)
		}
		want := scanDate.AddDate(0, 0, tc.days)
		if got := reminders[0].EndDate; got == nil || !got.Equal(want) {
			t.Errorf("%s: end date = %v, want %v", tc.duration, got, want)
		}
	}
}

func TestMaterializeTriggerInsideWindow(t *testing.T) {
	scanDate := time.Now()
	entries := []extract.Entry{
		{Name: "Lisinopril", Dose: "10mg", Frequency: "three times daily"},
	}

	m := testMaterializer()
	for trial := 0; trial < 50; trial++ {
		reminders := m.Materialize("bob", entries, scanDate)
		if len(reminders) != 3 {
			t.Fatalf("expected 3 reminders, got %d", len(reminders))
		}
		windows := timing.Infer("three times daily", "")
		for i, r := range reminders {
			w := windows[i]
			if r.Trigger < w.Start || r.Trigger > w.End {
				t.Fatalf("trigger %s outside window %s", r.Trigger, w.Range())
			}
			if r.WindowLabel != w.Label {
				t.Errorf("label = %q, want %q", r.WindowLabel, w.Label)
			}
		}
	}
}

func TestMaterializeDefaultsAndID(t *testing.T) {
	scanDate := time.Now()
	entries := []extract.Entry{{Name: "Vitamin D", Frequency: "once daily"}}

	reminders := testMaterializer().Materialize("carol", entries, scanDate)
	if len(reminders) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(reminders))
	}
	r := reminders[0]
	if r.Dosage != DefaultDosage {
		t.Errorf("dosage = %q, want %q", r.Dosage, DefaultDosage)
	}
	if r.Status != StatusActive {
		t.Errorf("status = %q, want %q", r.Status, StatusActive)
	}
	if strings.Contains(r.ID, " ") {
		t.Errorf("id %q contains whitespace", r.ID)
	}
	if want := ReminderID("carol", "Vitamin D", r.Trigger); r.ID != want {
		t.Errorf("id = %q, want %q", r.ID, want)
	}
}

func TestScheduleReplacesExistingJob(t *testing.T) {
	store := newMemStore()
	sched := NewScheduler(store, nil)
	sched.Bind(func(Reminder) {})

	r := Reminder{ID: "alice_Aspirin_08:15", UserID: "alice", Trigger: timing.T(8, 15)}
	for i := 0; i < 2; i++ {
		if err := sched.Schedule(context.Background(), r); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}
	if got := sched.Jobs(); got != 1 {
		t.Errorf("jobs = %d, want 1", got)
	}
	if got := store.count(); got != 1 {
		t.Errorf("stored jobs = %d, want 1", got)
	}
}

func TestCancelMissingJob(t *testing.T) {
	sched := NewScheduler(newMemStore(), nil)
	if err := sched.Cancel(context.Background(), "nope"); err != nil {
		t.Errorf("cancel of missing job: %v", err)
	}
}

func TestManagerSetForUserReplaces(t *testing.T) {
	store := newMemStore()
	sched := NewScheduler(store, nil)
	mgr := NewManager(sched, &recordingFirer{}, nil)

	first := []Reminder{
		{ID: "u_A_08:00", UserID: "u", Medication: "A", Trigger: timing.T(8, 0)},
		{ID: "u_B_20:00", UserID: "u", Medication: "B", Trigger: timing.T(20, 0)},
	}
	if got := mgr.SetForUser(context.Background(), "u", first); len(got) != 2 {
		t.Fatalf("first set kept %d, want 2", len(got))
	}

	second := []Reminder{
		{ID: "u_C_09:30", UserID: "u", Medication: "C", Trigger: timing.T(9, 30)},
	}
	if got := mgr.SetForUser(context.Background(), "u", second); len(got) != 1 {
		t.Fatalf("second set kept %d, want 1", len(got))
	}

	if got := sched.Jobs(); got != 1 {
		t.Errorf("jobs = %d, want 1", got)
	}
	list := mgr.List("u")
	if len(list) != 1 || list[0].Medication != "C" {
		t.Errorf("list = %+v, want single C", list)
	}
}

func TestManagerPartialScheduleFailure(t *testing.T) {
	store := newMemStore()
	store.failSave["u_Bad_10:00"] = true
	sched := NewScheduler(store, nil)
	mgr := NewManager(sched, &recordingFirer{}, nil)

	reminders := []Reminder{
		{ID: "u_Good_08:00", UserID: "u", Medication: "Good", Trigger: timing.T(8, 0)},
		{ID: "u_Bad_10:00", UserID: "u", Medication: "Bad", Trigger: timing.T(10, 0)},
		{ID: "u_Also_20:00", UserID: "u", Medication: "Also", Trigger: timing.T(20, 0)},
	}
	kept := mgr.SetForUser(context.Background(), "u", reminders)
	if len(kept) != 2 {
		t.Fatalf("kept %d reminders, want 2", len(kept))
	}
	for _, r := range kept {
		if r.Medication == "Bad" {
			t.Error("failed reminder was kept")
		}
	}
}

func TestManagerMarkTakenAndDelete(t *testing.T) {
	sched := NewScheduler(newMemStore(), nil)
	mgr := NewManager(sched, &recordingFirer{}, nil)

	r := Reminder{ID: "u_A_08:00", UserID: "u", Medication: "A", Trigger: timing.T(8, 0)}
	mgr.SetForUser(context.Background(), "u", []Reminder{r})

	if err := mgr.MarkTaken("u", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("mark taken missing: err = %v, want ErrNotFound", err)
	}
	if err := mgr.MarkTaken("u", r.ID); err != nil {
		t.Fatalf("mark taken: %v", err)
	}
	if got := mgr.List("u")[0].Status; got != StatusTaken {
		t.Errorf("status = %q, want taken", got)
	}

	if err := mgr.Delete(context.Background(), "u", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete missing: err = %v, want ErrNotFound", err)
	}
	if err := mgr.Delete(context.Background(), "u", r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := sched.Jobs(); got != 0 {
		t.Errorf("jobs after delete = %d, want 0", got)
	}
	if got := len(mgr.List("u")); got != 0 {
		t.Errorf("list after delete = %d, want empty", got)
	}
}

func TestManagerFireSuppressedAfterDelete(t *testing.T) {
	firer := &recordingFirer{}
	mgr := NewManager(NewScheduler(newMemStore(), nil), firer, nil)

	r := Reminder{ID: "u_A_08:00", UserID: "u", Medication: "A", Trigger: timing.T(8, 0)}
	mgr.SetForUser(context.Background(), "u", []Reminder{r})
	if err := mgr.Delete(context.Background(), "u", r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	mgr.handleFire(r)
	if firer.count() != 0 {
		t.Error("deleted reminder was dispatched")
	}
}

func TestManagerFireSuppressedAfterExpiry(t *testing.T) {
	firer := &recordingFirer{}
	mgr := NewManager(NewScheduler(newMemStore(), nil), firer, nil)

	end := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	r := Reminder{
		ID: "u_A_08:00", UserID: "u", Medication: "A",
		Trigger: timing.T(8, 0), EndDate: &end, Status: StatusActive,
	}
	mgr.SetForUser(context.Background(), "u", []Reminder{r})

	mgr.now = func() time.Time { return end.AddDate(0, 0, 1) }
	mgr.handleFire(r)
	if firer.count() != 0 {
		t.Error("expired reminder was dispatched")
	}

	mgr.now = func() time.Time { return end.AddDate(0, 0, -1) }
	mgr.handleFire(r)
	if firer.count() != 1 {
		t.Error("live reminder was not dispatched")
	}
}

func TestManagerRestore(t *testing.T) {
	store := newMemStore()
	seed := []Reminder{
		{ID: "u_A_08:00", UserID: "u", Medication: "A", Trigger: timing.T(8, 0)},
		{ID: "v_B_20:00", UserID: "v", Medication: "B", Trigger: timing.T(20, 0)},
	}
	for _, r := range seed {
		if err := store.Save(context.Background(), r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	sched := NewScheduler(store, nil)
	mgr := NewManager(sched, &recordingFirer{}, nil)

	restored, err := mgr.Restore(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored != 2 {
		t.Errorf("restored = %d, want 2", restored)
	}
	if got := sched.Jobs(); got != 2 {
		t.Errorf("jobs = %d, want 2", got)
	}
	if got := len(mgr.List("u")); got != 1 {
		t.Errorf("user u reminders = %d, want 1", got)
	}
}
