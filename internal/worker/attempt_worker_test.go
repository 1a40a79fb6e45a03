package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/model"
)

type fakeWriter struct {
	mu       sync.Mutex
	stored   map[uuid.UUID]*model.Attempt
	batches  int
	batchErr error
	failOne  uuid.UUID
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{stored: make(map[uuid.UUID]*model.Attempt)}
}

func (f *fakeWriter) InsertBatch(_ context.Context, batch []*model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batches++
	for _, a := range batch {
		f.stored[a.SessionID] = a
	}
	return nil
}

func (f *fakeWriter) Insert(_ context.Context, a *model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.SessionID == f.failOne {
		return errors.New("constraint violation")
	}
	f.stored[a.SessionID] = a
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

func newAttempt() *model.Attempt {
	return &model.Attempt{
		SessionID:  uuid.New(),
		ExamID:     uuid.New(),
		UserID:     "u-1",
		Verdict:    engine.VerdictPass,
		Reason:     engine.FinishSubmitted,
		FinishedAt: time.Now().UTC(),
	}
}

func pushAttempt(t *testing.T, mr *miniredis.Miniredis, a *model.Attempt) {
	t.Helper()
	raw, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mr.RPush(config.WorkerKey.PersistAttemptsQueue, string(raw)); err != nil {
		t.Fatal(err)
	}
}

func newTestWorker(t *testing.T, store AttemptWriter) (*AttemptWorker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	w := NewAttemptWorker(store, rdb, zerolog.Nop())
	w.BatchTimeout = 10 * time.Millisecond
	return w, mr
}

func TestAttemptWorkerPersistsQueuedAttempts(t *testing.T) {
	store := newFakeWriter()
	w, mr := newTestWorker(t, store)

	pushAttempt(t, mr, newAttempt())
	pushAttempt(t, mr, newAttempt())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for store.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if store.count() != 2 {
		t.Fatalf("stored %d attempts", store.count())
	}
}

func TestAttemptWorkerFallbackRequeuesFailures(t *testing.T) {
	store := newFakeWriter()
	store.batchErr = errors.New("deadlock detected")
	w, mr := newTestWorker(t, store)

	ok, bad := newAttempt(), newAttempt()
	store.failOne = bad.SessionID

	w.flushSafe(context.Background(), []*model.Attempt{ok, bad})

	if store.count() != 1 {
		t.Fatalf("stored %d attempts", store.count())
	}
	queued, err := mr.List(config.WorkerKey.PersistAttemptsQueue)
	if err != nil || len(queued) != 1 {
		t.Fatalf("queue = %v, %v", queued, err)
	}
	var back model.Attempt
	if err := json.Unmarshal([]byte(queued[0]), &back); err != nil || back.SessionID != bad.SessionID {
		t.Fatalf("requeued %+v, %v", back, err)
	}
}
