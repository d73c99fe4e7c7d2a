// Package scancache memoizes scan results by a content hash of the source
// image, so re-uploads of the same picture skip recognition and extraction.
package scancache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RecordVersion guards the persisted format. Records written with another
// version are treated as misses instead of being decoded blindly.
const RecordVersion = 1

// Record is one cached scan result.
type Record struct {
	Version   int             `json:"version"`
	Key       string          `json:"key"`
	Text      string          `json:"text"`
	Entries   json.RawMessage `json:"entries"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is the durable layer behind the in-memory cache. Put must be
// idempotent: writing the same key twice with the same content is a no-op,
// never an error, since two concurrent scans of one image may both miss.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, rec Record) error
}

// Config bounds the in-memory layer.
type Config struct {
	// Capacity is the recency-evicted in-memory entry limit.
	Capacity int
}

func DefaultConfig() Config {
	return Config{Capacity: 256}
}

// Cache fronts the store with a bounded recency cache.
type Cache struct {
	store  Store
	memory *lru.Cache[string, Record]
	logger *zap.Logger
	tracer trace.Tracer
}

func New(store Store, cfg Config, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Capacity <= 0 {
		cfg = DefaultConfig()
	}
	memory, err := lru.New[string, Record](cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("build scan cache: %w", err)
	}
	return &Cache{
		store:  store,
		memory: memory,
		logger: logger,
		tracer: otel.Tracer("scancache"),
	}, nil
}

// Key hashes image bytes into the cache key.
func Key(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached record for the key, or nil on a miss. Store errors
// degrade to a miss: the scan is recomputed rather than failed.
func (c *Cache) Get(ctx context.Context, key string) *Record {
	ctx, span := c.tracer.Start(ctx, "scancache_get",
		trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if rec, ok := c.memory.Get(key); ok {
		span.SetAttributes(attribute.Bool("hit", true))
		return &rec
	}

	rec, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("scan cache read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if rec == nil || rec.Version != RecordVersion {
		return nil
	}

	c.memory.Add(key, *rec)
	span.SetAttributes(attribute.Bool("hit", true), attribute.Bool("from_store", true))
	return rec
}

// Put writes through to the store. A store failure keeps the in-memory entry
// and is logged; the scan result itself has already been produced.
func (c *Cache) Put(ctx context.Context, key, text string, entries any) {
	raw, err := json.Marshal(entries)
	if err != nil {
		c.logger.Error("scan cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}

	rec := Record{
		Version:   RecordVersion,
		Key:       key,
		Text:      text,
		Entries:   raw,
		CreatedAt: time.Now().UTC(),
	}
	c.memory.Add(key, rec)

	if err := c.store.Put(ctx, rec); err != nil {
		c.logger.Warn("scan cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Len reports the in-memory entry count.
func (c *Cache) Len() int {
	return c.memory.Len()
}
