package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

type fakeExamStore struct {
	mu        sync.Mutex
	exams     map[uuid.UUID]*model.Exam
	questions map[uuid.UUID][]model.Question
	gets      int
	err       error
}

func newFakeExamStore() *fakeExamStore {
	return &fakeExamStore{
		exams:     make(map[uuid.UUID]*model.Exam),
		questions: make(map[uuid.UUID][]model.Question),
	}
}

// add stores a published exam with n questions whose correct key is "A".
func (f *fakeExamStore) add(n int, paid bool) *model.Exam {
	f.mu.Lock()
	defer f.mu.Unlock()

	exam := &model.Exam{
		ID:              uuid.New(),
		Title:           "Ujian Coba",
		Category:        "general",
		DurationSeconds: 120,
		TotalMarks:      n,
		PassingMarks:    (n + 1) / 2,
		IsPaid:          paid,
		AccessCode:      "OPEN123",
		Status:          model.ExamStatusPublished,
	}
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:            uuid.New(),
			ExamID:        exam.ID,
			QuestionText:  fmt.Sprintf("Soal %d", i+1),
			Options:       json.RawMessage(`{"A":"benar","B":"salah","C":"salah juga"}`),
			CorrectOption: "A",
			OrderNum:      i,
		}
	}
	f.exams[exam.ID] = exam
	f.questions[exam.ID] = qs
	return exam
}

func (f *fakeExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.exams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExamStore) ListQuestions(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Question(nil), f.questions[examID]...), nil
}

func (f *fakeExamStore) ListPublished(_ context.Context) ([]model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Exam
	for _, e := range f.exams {
		if e.Status == model.ExamStatusPublished {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeExamStore) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

type fakeRegistrations struct {
	regs map[string]*model.Registration
	err  error
}

func regKey(examID uuid.UUID, userID string) string { return examID.String() + "/" + userID }

func (f *fakeRegistrations) register(examID uuid.UUID, userID string, status model.PaymentStatus) {
	if f.regs == nil {
		f.regs = make(map[string]*model.Registration)
	}
	f.regs[regKey(examID, userID)] = &model.Registration{ExamID: examID, UserID: userID, PaymentStatus: status}
}

func (f *fakeRegistrations) Get(_ context.Context, examID uuid.UUID, userID string) (*model.Registration, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.regs[regKey(examID, userID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r, nil
}

// manualScheduler fires scheduled callbacks only when the test calls fire.
type manualScheduler struct {
	mu   sync.Mutex
	fns  map[int]func()
	next int
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{fns: make(map[int]func())}
}

func (m *manualScheduler) Every(_ time.Duration, fn func()) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.fns[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.fns, id)
		m.mu.Unlock()
	}
}

func (m *manualScheduler) fire(n int) {
	for i := 0; i < n; i++ {
		m.mu.Lock()
		fns := make([]func(), 0, len(m.fns))
		for id := 0; id < m.next; id++ {
			if fn, ok := m.fns[id]; ok {
				fns = append(fns, fn)
			}
		}
		m.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	}
}

func testIdentity(id string) engine.Identity {
	return engine.Identity{ID: id, Name: "Siswa " + id, Email: id + "@example.com"}
}
