// Package meddb provides the medication knowledge base: canonicalization of
// free-text drug names via exact, fuzzy and remote terminology lookup.
package meddb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Source records where a knowledge base entry came from
type Source string

const (
	SourceLocal      Source = "local"
	SourceRemote     Source = "rxnorm"
	SourceUnverified Source = "unverified"
)

// Entry is a single medication row in the local table
type Entry struct {
	Name       string
	CommonDose string
	Category   string
	Source     Source
}

// Repository persists the local medication table
type Repository interface {
	LoadAll(ctx context.Context) ([]Entry, error)
	Append(ctx context.Context, e Entry) error
}

// Resolver performs a remote terminology lookup. An empty result with a nil
// error means no match; errors are treated the same way by the caller.
type Resolver interface {
	ApproximateMatch(ctx context.Context, name string) (string, error)
}

const (
	// lookupCacheSize bounds the memoization cache
	lookupCacheSize = 1000
	// acceptScore is the primary fuzzy acceptance threshold
	acceptScore = 80
	// fallbackScore is the lowered last-resort threshold
	fallbackScore = 65
	// minIndexPartLen excludes short word parts from the name index
	minIndexPartLen = 3
)

type lookupResult struct {
	name string
	ok   bool
}

// KnowledgeBase canonicalizes raw medication names. The local table and its
// index are shared across all users: reads are concurrent, writes (remote
// lookup insertions) are serialized behind the write lock.
type KnowledgeBase struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]string

	repo   Repository
	remote Resolver
	cache  *lru.Cache[string, lookupResult]
	lev    *metrics.Levenshtein
	logger *zap.Logger
}

// New builds a knowledge base from the persisted table, seeding the common
// medication list when the table is empty.
func New(ctx context.Context, repo Repository, remote Resolver, logger *zap.Logger) (*KnowledgeBase, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New[string, lookupResult](lookupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create lookup cache: %w", err)
	}

	kb := &KnowledgeBase{
		index:  make(map[string]string),
		repo:   repo,
		remote: remote,
		cache:  cache,
		lev:    metrics.NewLevenshtein(),
		logger: logger,
	}

	entries, err := repo.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load medication table: %w", err)
	}

	if len(entries) == 0 {
		entries = seedEntries()
		for _, e := range entries {
			if err := repo.Append(ctx, e); err != nil {
				return nil, fmt.Errorf("seed medication table: %w", err)
			}
		}
		logger.Info("seeded medication table", zap.Int("entries", len(entries)))
	}

	kb.entries = entries
	for _, e := range entries {
		kb.indexEntry(e.Name)
	}

	logger.Info("medication knowledge base ready",
		zap.Int("entries", len(kb.entries)),
		zap.Int("index_size", len(kb.index)))

	return kb, nil
}

// Lookup resolves a raw name to its canonical form. The result, including a
// miss, is memoized by the lowercased input.
func (kb *KnowledgeBase) Lookup(ctx context.Context, raw string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return "", false
	}

	if r, ok := kb.cache.Get(key); ok {
		return r.name, r.ok
	}

	name, ok := kb.resolve(ctx, key)
	kb.cache.Add(key, lookupResult{name: name, ok: ok})
	return name, ok
}

// resolve runs the lookup cascade, short-circuiting on first success.
func (kb *KnowledgeBase) resolve(ctx context.Context, key string) (string, bool) {
	kb.mu.RLock()
	canonical, exact := kb.index[key]
	kb.mu.RUnlock()
	if exact {
		return canonical, true
	}

	best, score := kb.bestLocalMatch(key)
	if score >= acceptScore {
		return best, true
	}

	if kb.remote != nil {
		name, err := kb.remote.ApproximateMatch(ctx, key)
		if err != nil {
			kb.logger.Debug("remote terminology lookup failed",
				zap.String("term", key), zap.Error(err))
		} else if name != "" {
			kb.insertRemote(ctx, key, name)
			return name, true
		}
	}

	if score >= fallbackScore {
		return best, true
	}

	return "", false
}

// bestLocalMatch scores the key against every canonical name using a
// token-order-insensitive similarity in the 0-100 range.
func (kb *KnowledgeBase) bestLocalMatch(key string) (string, int) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	sorted := sortTokens(key)
	bestName, bestScore := "", 0
	for _, e := range kb.entries {
		score := int(strutil.Similarity(sorted, sortTokens(strings.ToLower(e.Name)), kb.lev) * 100)
		if score > bestScore {
			bestName, bestScore = e.Name, score
		}
	}
	return bestName, bestScore
}

// insertRemote caches a remote win in the table and the index so later scans
// hit locally. The append is best-effort: a persistence failure keeps the
// in-memory copy and is only logged.
func (kb *KnowledgeBase) insertRemote(ctx context.Context, key, name string) {
	entry := Entry{Name: name, Source: SourceRemote}

	kb.mu.Lock()
	kb.entries = append(kb.entries, entry)
	kb.indexEntry(name)
	kb.index[key] = name
	kb.mu.Unlock()

	if err := kb.repo.Append(ctx, entry); err != nil {
		kb.logger.Error("failed to persist remote medication",
			zap.String("name", name), zap.Error(err))
	}

	kb.logger.Info("added medication from remote terminology", zap.String("name", name))
}

// indexEntry adds a canonical name and its significant word parts to the
// index. Callers hold the write lock (or are still single-threaded in New).
func (kb *KnowledgeBase) indexEntry(name string) {
	lower := strings.ToLower(name)
	kb.index[lower] = name
	for _, part := range strings.Fields(lower) {
		if len(part) <= minIndexPartLen {
			continue
		}
		if _, exists := kb.index[part]; !exists {
			kb.index[part] = name
		}
	}
}

// Size returns the current number of table entries.
func (kb *KnowledgeBase) Size() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.entries)
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// seedEntries is the fallback table used when no persisted rows exist.
func seedEntries() []Entry {
	return []Entry{
		{Name: "Amoxicillin", CommonDose: "500mg", Category: "antibiotic", Source: SourceLocal},
		{Name: "Lisinopril", CommonDose: "10mg", Category: "antihypertensive", Source: SourceLocal},
		{Name: "Metformin", CommonDose: "500mg", Category: "antidiabetic", Source: SourceLocal},
		{Name: "Atorvastatin", CommonDose: "20mg", Category: "statin", Source: SourceLocal},
		{Name: "Levothyroxine", CommonDose: "50mcg", Category: "thyroid hormone", Source: SourceLocal},
		{Name: "Ibuprofen", CommonDose: "400mg", Category: "NSAID", Source: SourceLocal},
		{Name: "Paracetamol", CommonDose: "500mg", Category: "analgesic", Source: SourceLocal},
		{Name: "Aspirin", CommonDose: "75mg", Category: "antiplatelet", Source: SourceLocal},
		{Name: "Omeprazole", CommonDose: "20mg", Category: "PPI", Source: SourceLocal},
		{Name: "Amlodipine", CommonDose: "5mg", Category: "calcium channel blocker", Source: SourceLocal},
	}
}
