package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"golang.org/x/sync/singleflight"
)

// Catalog errors.
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrExamNotAvailable = errors.New("exam is not available")
)

// ExamStore is the read side of the exam tables.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	ListPublished(ctx context.Context) ([]model.Exam, error)
}

// ExamCatalog serves exam definitions from Redis, loading them from
// PostgreSQL on a miss. Concurrent misses for one exam share a single load.
type ExamCatalog struct {
	store ExamStore
	rdb   *redis.Client
	ttl   time.Duration
	group singleflight.Group
	log   zerolog.Logger
}

// NewExamCatalog creates a new ExamCatalog.
func NewExamCatalog(store ExamStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamCatalog {
	return &ExamCatalog{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "exam_catalog").Logger(),
	}
}

// Get returns the definition of examID. Each call returns a fresh copy.
func (c *ExamCatalog) Get(ctx context.Context, examID string) (*engine.ExamDefinition, error) {
	id, err := uuid.Parse(examID)
	if err != nil {
		return nil, ErrExamNotFound
	}
	key := config.CacheKey.ExamDefinitionKey(id.String())

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		def := &engine.ExamDefinition{}
		if jerr := json.Unmarshal(raw, def); jerr == nil {
			return def, nil
		}
		c.log.Warn().Str("exam_id", examID).Msg("Corrupt cached definition, reloading")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("exam_id", examID).Msg("Cache read failed, falling back to database")
	}

	v, err, _ := c.group.Do(id.String(), func() (interface{}, error) {
		return c.load(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	// The shared result is marshalled JSON so every caller decodes its own copy.
	def := &engine.ExamDefinition{}
	if err := json.Unmarshal(v.([]byte), def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	return def, nil
}

// Warm reloads examID from the database into the cache.
func (c *ExamCatalog) Warm(ctx context.Context, examID string) error {
	id, err := uuid.Parse(examID)
	if err != nil {
		return ErrExamNotFound
	}
	_, err = c.load(ctx, id)
	return err
}

// Invalidate drops the cached definition of examID.
func (c *ExamCatalog) Invalidate(ctx context.Context, examID string) error {
	return c.rdb.Del(ctx, config.CacheKey.ExamDefinitionKey(examID)).Err()
}

// PrewarmAll loads every published exam into Redis. Exams that fail to load are skipped.
func (c *ExamCatalog) PrewarmAll(ctx context.Context) (int, error) {
	exams, err := c.store.ListPublished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list published exams: %w", err)
	}

	warmed := 0
	for i := range exams {
		if _, err := c.build(ctx, &exams[i]); err != nil {
			c.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	c.log.Info().Int("warmed", warmed).Int("total", len(exams)).Msg("Exam cache prewarmed")
	return warmed, nil
}

func (c *ExamCatalog) load(ctx context.Context, id uuid.UUID) ([]byte, error) {
	exam, err := c.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return c.build(ctx, exam)
}

// build converts exam to a definition and caches it.
func (c *ExamCatalog) build(ctx context.Context, exam *model.Exam) ([]byte, error) {
	questions, err := c.store.ListQuestions(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	def, err := exam.Definition(questions)
	if err != nil {
		if errors.Is(err, model.ErrExamNotPublished) || errors.Is(err, engine.ErrNoQuestions) {
			return nil, fmt.Errorf("%w: %v", ErrExamNotAvailable, err)
		}
		return nil, err
	}

	raw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}
	if err := c.rdb.Set(ctx, config.CacheKey.ExamDefinitionKey(def.ID), raw, c.ttl).Err(); err != nil {
		// Serving from the database still works; the next call retries the cache.
		c.log.Warn().Err(err).Str("exam_id", def.ID).Msg("Cache write failed")
	}

	c.log.Debug().
		Str("exam_id", def.ID).
		Int("questions", len(def.Questions)).
		Msg("Cache warmed")
	return raw, nil
}
