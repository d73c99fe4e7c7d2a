// Package scan orchestrates the prescription pipeline: recognition,
// extraction, timing inference, materialization and scheduling.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saharacare/go-rxmind/internal/extract"
	"github.com/saharacare/go-rxmind/internal/observability/metrics"
	"github.com/saharacare/go-rxmind/internal/ocr"
	"github.com/saharacare/go-rxmind/internal/reminder"
	"github.com/saharacare/go-rxmind/internal/scancache"
	"github.com/saharacare/go-rxmind/internal/timing"
	"github.com/saharacare/go-rxmind/pkg/workerpool"
)

// Result is the outcome of one scan.
type Result struct {
	Text           string              `json:"text"`
	Medications    []extract.Entry     `json:"medications"`
	Reminders      []reminder.Reminder `json:"reminders"`
	ProcessingTime float64             `json:"processing_time"`
	Cached         bool                `json:"cached,omitempty"`
}

// AuditPublisher records completed scans on the audit stream, best-effort.
type AuditPublisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type auditEvent struct {
	UserID      string  `json:"user_id"`
	ImageHash   string  `json:"image_hash"`
	Medications int     `json:"medications"`
	Reminders   int     `json:"reminders"`
	Cached      bool    `json:"cached"`
	Duration    float64 `json:"duration_seconds"`
}

// Config tunes the scan worker pool.
type Config struct {
	Workers    int
	QueueSize  int
	AuditTopic string
}

func DefaultConfig() Config {
	return Config{
		Workers:    8,
		QueueSize:  64,
		AuditTopic: "scan.audit",
	}
}

// Service runs scans on a bounded worker pool so concurrent uploads cannot
// exhaust the process.
type Service struct {
	engine       ocr.Engine
	extractor    *extract.Extractor
	materializer *reminder.Materializer
	manager      *reminder.Manager
	cache        *scancache.Cache
	audit        AuditPublisher
	auditTopic   string
	pool         *workerpool.Pool
	metrics      *metrics.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

type scanRequest struct {
	userID string
	image  []byte
}

// New builds the service and its worker pool. Start must be called before
// Scan, and Stop on shutdown.
func New(
	engine ocr.Engine,
	extractor *extract.Extractor,
	materializer *reminder.Materializer,
	manager *reminder.Manager,
	cache *scancache.Cache,
	audit AuditPublisher,
	cfg Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg = DefaultConfig()
	}

	s := &Service{
		engine:       engine,
		extractor:    extractor,
		materializer: materializer,
		manager:      manager,
		cache:        cache,
		audit:        audit,
		auditTopic:   cfg.AuditTopic,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}

	pool, err := workerpool.New(workerpool.Config{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	}, s.work, logger)
	if err != nil {
		return nil, fmt.Errorf("build scan pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

func (s *Service) Start() { s.pool.Start() }

func (s *Service) Stop() error { return s.pool.Stop() }

// Scan submits the request to the pool and waits for its result.
func (s *Service) Scan(ctx context.Context, userID string, image []byte) (*Result, error) {
	task := &workerpool.Task{
		ID:      uuid.NewString(),
		Payload: scanRequest{userID: userID, image: image},
		Context: ctx,
	}
	out, err := s.pool.SubmitWait(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("scan submit: %w", err)
	}
	if !out.Success {
		return nil, out.Error
	}
	return out.Data.(*Result), nil
}

func (s *Service) work(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	req := task.Payload.(scanRequest)
	res, err := s.process(ctx, req.userID, req.image)
	return &workerpool.Result{
		TaskID:  task.ID,
		Success: err == nil,
		Error:   err,
		Data:    res,
	}
}

// process is the pipeline body. Recognition failure fails the whole scan; a
// scheduling failure for one reminder only drops that reminder.
func (s *Service) process(ctx context.Context, userID string, image []byte) (*Result, error) {
	started := s.now()
	key := scancache.Key(image)

	text, entries, cached, err := s.recognizeAndExtract(ctx, key, image)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ScansFailed.Inc()
		}
		return nil, err
	}

	for i := range entries {
		entries[i].Windows = timing.Infer(entries[i].Frequency, entries[i].Meal)
	}

	materialized := s.materializer.Materialize(userID, entries, started)
	scheduled := s.manager.SetForUser(ctx, userID, materialized)

	elapsed := s.now().Sub(started).Seconds()
	res := &Result{
		Text:           text,
		Medications:    entries,
		Reminders:      scheduled,
		ProcessingTime: elapsed,
		Cached:         cached,
	}

	if s.metrics != nil {
		s.metrics.ScansCompleted.Inc()
		s.metrics.ScanDuration.Observe(elapsed)
		s.metrics.RemindersScheduled.Add(float64(len(scheduled)))
		if cached {
			s.metrics.ScanCacheHits.Inc()
		}
	}
	s.publishAudit(userID, key, res)

	s.logger.Info("scan completed",
		zap.String("user_id", userID),
		zap.Int("medications", len(entries)),
		zap.Int("reminders", len(scheduled)),
		zap.Bool("cached", cached),
		zap.Float64("duration_seconds", elapsed))
	return res, nil
}

// recognizeAndExtract consults the content-addressed cache before running
// recognition and extraction.
func (s *Service) recognizeAndExtract(ctx context.Context, key string, image []byte) (string, []extract.Entry, bool, error) {
	if rec := s.cache.Get(ctx, key); rec != nil {
		var entries []extract.Entry
		if err := json.Unmarshal(rec.Entries, &entries); err == nil {
			return rec.Text, entries, true, nil
		}
		s.logger.Warn("cached entries unreadable, rescanning", zap.String("key", key))
	}

	text, err := s.engine.Recognize(ctx, image)
	if err != nil {
		return "", nil, false, fmt.Errorf("recognize prescription: %w", err)
	}

	entries := s.extractor.Extract(ctx, text)
	s.cache.Put(ctx, key, text, entries)
	return text, entries, false, nil
}

func (s *Service) publishAudit(userID, key string, res *Result) {
	if s.audit == nil {
		return
	}
	payload, err := json.Marshal(auditEvent{
		UserID:      userID,
		ImageHash:   key,
		Medications: len(res.Medications),
		Reminders:   len(res.Reminders),
		Cached:      res.Cached,
		Duration:    res.ProcessingTime,
	})
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.audit.Publish(ctx, s.auditTopic, []byte(userID), payload); err != nil {
			s.logger.Warn("scan audit publish failed", zap.Error(err))
		}
	}()
}
