package scancache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]Record
	puts    int
	fail    bool
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func (s *memStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("store down")
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	s.puts++
	s.records[rec.Key] = rec
	return nil
}

func TestKeyIsDeterministic(t *testing.T) {
	a := Key([]byte("image-bytes"))
	b := Key([]byte("image-bytes"))
	if a != b {
		t.Errorf("same bytes hashed differently: %s vs %s", a, b)
	}
	if a == Key([]byte("other-bytes")) {
		t.Error("different bytes collided")
	}
}

func TestPutThenGet(t *testing.T) {
	store := newMemStore()
	cache, err := New(store, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	key := Key([]byte("rx.png"))
	entries := []map[string]string{{"name": "Amoxicillin"}}
	cache.Put(context.Background(), key, "Amoxicillin 500mg", entries)

	rec := cache.Get(context.Background(), key)
	if rec == nil {
		t.Fatal("expected hit")
	}
	if rec.Text != "Amoxicillin 500mg" {
		t.Errorf("text = %q", rec.Text)
	}
	var decoded []map[string]string
	if err := json.Unmarshal(rec.Entries, &decoded); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(decoded) != 1 || decoded[0]["name"] != "Amoxicillin" {
		t.Errorf("entries = %+v", decoded)
	}
}

func TestGetLoadsFromStore(t *testing.T) {
	store := newMemStore()
	warm, err := New(store, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	key := Key([]byte("rx.png"))
	warm.Put(context.Background(), key, "text", nil)

	// Fresh cache, empty memory, same store.
	cold, err := New(store, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec := cold.Get(context.Background(), key); rec == nil || rec.Text != "text" {
		t.Fatalf("store-backed get = %+v", rec)
	}
	if cold.Len() != 1 {
		t.Errorf("memory len = %d, want 1 after store hit", cold.Len())
	}
}

func TestVersionMismatchIsMiss(t *testing.T) {
	store := newMemStore()
	store.records["k"] = Record{Version: RecordVersion + 1, Key: "k", Text: "stale"}

	cache, err := New(store, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec := cache.Get(context.Background(), "k"); rec != nil {
		t.Errorf("mismatched version returned %+v, want miss", rec)
	}
}

func TestStoreFailureDegradesToMiss(t *testing.T) {
	store := newMemStore()
	store.fail = true

	cache, err := New(store, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec := cache.Get(context.Background(), "k"); rec != nil {
		t.Error("expected miss on store failure")
	}
	// Writes keep the in-memory copy even when the store is down.
	cache.Put(context.Background(), "k", "text", nil)
	if rec := cache.Get(context.Background(), "k"); rec == nil {
		t.Error("expected in-memory hit after failed write-through")
	}
}
