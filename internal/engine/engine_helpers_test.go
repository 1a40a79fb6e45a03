package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// manualScheduler fires scheduled callbacks only when the test calls Fire.
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

// Fire runs every live callback once on the calling goroutine.
func (m *manualScheduler) Fire() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.fns))
	for i := 0; i < m.next; i++ {
		if fn, ok := m.fns[i]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (m *manualScheduler) FireN(n int) {
	for i := 0; i < n; i++ {
		m.Fire()
	}
}

func (m *manualScheduler) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fns)
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []Report
	err     error
	notice  json.RawMessage
}

func (f *fakeReporter) SubmitReport(_ context.Context, r Report) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	if f.err != nil {
		return nil, f.err
	}
	return f.notice, nil
}

func (f *fakeReporter) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeReporter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventLog) OnEvent(ev Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *eventLog) count(t EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

var errReportDown = errors.New("report service unavailable")

// fiveQuestions builds the exam used by the result scenarios: every correct key is "A".
func fiveQuestions() *ExamDefinition {
	qs := make([]Question, 5)
	for i := range qs {
		qs[i] = Question{
			ID:            fmt.Sprintf("q%d", i),
			Prompt:        fmt.Sprintf("Question %d", i),
			Options:       map[string]string{"A": "alpha", "B": "beta", "C": "gamma", "D": "delta"},
			CorrectOption: "A",
		}
	}
	return &ExamDefinition{
		ID:              "exam-1",
		Name:            "Sample",
		Category:        "math",
		Questions:       qs,
		DurationSeconds: 100,
		TotalMarks:      5,
		PassingMarks:    3,
		AccessCode:      "Secret42",
	}
}
