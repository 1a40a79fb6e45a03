package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

const (
	AttemptBatchSize    = 50
	AttemptBatchTimeout = 2 * time.Second
	AttemptPollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// AttemptWriter stores finished attempts.
type AttemptWriter interface {
	InsertBatch(ctx context.Context, batch []*model.Attempt) error
	Insert(ctx context.Context, a *model.Attempt) error
}

// AttemptWorker consumes persist_attempts_queue and writes attempts to PostgreSQL in batches.
type AttemptWorker struct {
	store AttemptWriter
	rdb   *redis.Client
	log   zerolog.Logger

	BatchSize    int
	BatchTimeout time.Duration
	PollTimeout  time.Duration
}

func NewAttemptWorker(store AttemptWriter, rdb *redis.Client, log zerolog.Logger) *AttemptWorker {
	return &AttemptWorker{
		store:        store,
		rdb:          rdb,
		log:          log.With().Str("component", "attempt_worker").Logger(),
		BatchSize:    AttemptBatchSize,
		BatchTimeout: AttemptBatchTimeout,
		PollTimeout:  AttemptPollTimeout,
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start runs until ctx is cancelled. Call in a goroutine.
func (w *AttemptWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AttemptWorker started")

	batch := make([]*model.Attempt, 0, w.BatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= w.BatchSize || time.Since(lastFlush) >= w.BatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, w.PollTimeout, config.WorkerKey.PersistAttemptsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
					time.Sleep(w.PollTimeout)
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var a model.Attempt
			if err := json.Unmarshal([]byte(item[1]), &a); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &a)
		}
	}
}

// ----------------------------------------------------------------
// Batch insert with per-row fallback
// ----------------------------------------------------------------

func (w *AttemptWorker) flushSafe(ctx context.Context, batch []*model.Attempt) {
	if len(batch) == 0 {
		return
	}

	err := w.store.InsertBatch(ctx, batch)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Attempts persisted")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("batch insert failed, using fallback")

	for _, a := range batch {
		if err := w.store.Insert(ctx, a); err != nil {
			w.log.Error().Err(err).Str("session_id", a.SessionID.String()).Msg("insert failed, requeueing")
			raw, _ := json.Marshal(a)
			w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.PersistAttemptsQueue, raw)
		}
	}
}
