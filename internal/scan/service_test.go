package scan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/saharacare/go-rxmind/internal/extract"
	"github.com/saharacare/go-rxmind/internal/reminder"
	"github.com/saharacare/go-rxmind/internal/scancache"
)

type fakeEngine struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (e *fakeEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.text, e.err
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeKB map[string]string

func (f fakeKB) Lookup(ctx context.Context, raw string) (string, bool) {
	name, ok := f[strings.ToLower(strings.TrimSpace(raw))]
	return name, ok
}

type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]reminder.Reminder
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]reminder.Reminder)}
}

func (s *memJobStore) Save(ctx context.Context, r reminder.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[r.ID] = r
	return nil
}

func (s *memJobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memJobStore) List(ctx context.Context) ([]reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reminder.Reminder, 0, len(s.jobs))
	for _, r := range s.jobs {
		out = append(out, r)
	}
	return out, nil
}

type nopFirer struct{}

func (nopFirer) Fire(reminder.Reminder) {}

type memScanStore struct {
	mu   sync.Mutex
	recs map[string]scancache.Record
}

func newMemScanStore() *memScanStore {
	return &memScanStore{recs: make(map[string]scancache.Record)}
}

func (s *memScanStore) Get(ctx context.Context, key string) (*scancache.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memScanStore) Put(ctx context.Context, rec scancache.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Key] = rec
	return nil
}

type memAudit struct {
	mu     sync.Mutex
	topics []string
	done   chan struct{}
}

func (a *memAudit) Publish(ctx context.Context, topic string, key, value []byte) error {
	a.mu.Lock()
	a.topics = append(a.topics, topic)
	a.mu.Unlock()
	select {
	case a.done <- struct{}{}:
	default:
	}
	return nil
}

func newService(t *testing.T, engine *fakeEngine) (*Service, *reminder.Manager) {
	t.Helper()
	logger := zap.NewNop()

	kb := fakeKB{"paracetamol": "Paracetamol", "amoxicillin": "Amoxicillin"}
	manager := reminder.NewManager(reminder.NewScheduler(newMemJobStore(), logger), nopFirer{}, logger)

	cache, err := scancache.New(newMemScanStore(), scancache.DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("build cache: %v", err)
	}

	svc, err := New(engine, extract.New(kb, logger), reminder.NewMaterializer(),
		manager, cache, nil, Config{Workers: 2, QueueSize: 8, AuditTopic: "scan.audit"}, nil, logger)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	svc.Start()
	t.Cleanup(func() { svc.Stop() })
	return svc, manager
}

func TestScanSchedulesReminders(t *testing.T) {
	engine := &fakeEngine{text: "Rx\n1) Tab. Paracetamol 500mg twice daily for 5 days"}
	svc, manager := newService(t, engine)

	res, err := svc.Scan(context.Background(), "alice", []byte("image-1"))
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if res.Cached {
		t.Fatal("first scan reported as cached")
	}
	if len(res.Medications) != 1 {
		t.Fatalf("expected 1 medication, got %d", len(res.Medications))
	}
	med := res.Medications[0]
	if med.Name != "Paracetamol" || med.Dose != "500mg" {
		t.Fatalf("unexpected medication %+v", med)
	}
	if len(med.Windows) != 2 {
		t.Fatalf("expected 2 windows for twice daily, got %d", len(med.Windows))
	}
	if len(res.Reminders) != 2 {
		t.Fatalf("expected 2 reminders, got %d", len(res.Reminders))
	}
	for _, r := range res.Reminders {
		if r.EndDate == nil {
			t.Fatalf("reminder %s missing end date", r.ID)
		}
	}

	listed := manager.List("alice")
	if len(listed) != 2 {
		t.Fatalf("expected 2 scheduled reminders, got %d", len(listed))
	}
}

func TestScanCacheHitSkipsRecognition(t *testing.T) {
	engine := &fakeEngine{text: "Rx\n1) Tab. Amoxicillin 250mg daily"}
	svc, _ := newService(t, engine)

	image := []byte("same-image")
	if _, err := svc.Scan(context.Background(), "alice", image); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	res, err := svc.Scan(context.Background(), "alice", image)
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	if !res.Cached {
		t.Fatal("second scan of identical image not served from cache")
	}
	if engine.callCount() != 1 {
		t.Fatalf("expected 1 recognition call, got %d", engine.callCount())
	}
	if len(res.Medications) != 1 || res.Medications[0].Name != "Amoxicillin" {
		t.Fatalf("cached result lost medications: %+v", res.Medications)
	}
}

func TestScanRecognitionFailureFailsScan(t *testing.T) {
	engine := &fakeEngine{err: errors.New("service unavailable")}
	svc, _ := newService(t, engine)

	_, err := svc.Scan(context.Background(), "alice", []byte("img"))
	if err == nil {
		t.Fatal("expected scan error when recognition fails")
	}
	if !strings.Contains(err.Error(), "recognize prescription") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScanRescanReplacesUserReminders(t *testing.T) {
	engine := &fakeEngine{text: "Rx\n1) Tab. Paracetamol 500mg 3 times a day"}
	svc, manager := newService(t, engine)

	if _, err := svc.Scan(context.Background(), "bob", []byte("img-a")); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	engine.mu.Lock()
	engine.text = "Rx\n1) Tab. Amoxicillin 250mg daily"
	engine.mu.Unlock()

	if _, err := svc.Scan(context.Background(), "bob", []byte("img-b")); err != nil {
		t.Fatalf("second scan failed: %v", err)
	}

	listed := manager.List("bob")
	if len(listed) != 1 {
		t.Fatalf("expected rescan to replace reminders, got %d", len(listed))
	}
	if listed[0].Medication != "Amoxicillin" {
		t.Fatalf("expected Amoxicillin reminder, got %s", listed[0].Medication)
	}
}

func TestScanPublishesAudit(t *testing.T) {
	engine := &fakeEngine{text: "Rx\n1) Tab. Paracetamol 500mg daily"}
	logger := zap.NewNop()
	audit := &memAudit{done: make(chan struct{}, 1)}

	kb := fakeKB{"paracetamol": "Paracetamol"}
	manager := reminder.NewManager(reminder.NewScheduler(newMemJobStore(), logger), nopFirer{}, logger)
	cache, err := scancache.New(newMemScanStore(), scancache.DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("build cache: %v", err)
	}
	svc, err := New(engine, extract.New(kb, logger), reminder.NewMaterializer(),
		manager, cache, audit, Config{Workers: 1, QueueSize: 4, AuditTopic: "scan.audit"}, nil, logger)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	svc.Start()
	defer svc.Stop()

	if _, err := svc.Scan(context.Background(), "alice", []byte("img")); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	<-audit.done

	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.topics) != 1 || audit.topics[0] != "scan.audit" {
		t.Fatalf("unexpected audit topics: %v", audit.topics)
	}
}
