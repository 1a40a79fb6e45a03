package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type sessionFixture struct {
	session  *Session
	sched    *manualScheduler
	reporter *fakeReporter
	events   *eventLog
	scored   *atomic.Int32
}

func newFixture(t *testing.T, def *ExamDefinition) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		sched:    newManualScheduler(),
		reporter: &fakeReporter{notice: json.RawMessage(`{"level_up":true}`)},
		events:   &eventLog{},
		scored:   &atomic.Int32{},
	}
	counting := func(qs []Question, answers map[int]string, passing int) ResultRecord {
		f.scored.Add(1)
		return Score(qs, answers, passing)
	}

	s, err := NewSession(def, Identity{ID: "u-1", Name: "Ada", Email: "ada@example.com"},
		WithScheduler(f.sched),
		WithReporter(f.reporter),
		WithScorer(counting),
	)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	s.Subscribe(f.events)
	f.session = s
	return f
}

func (f *sessionFixture) start(t *testing.T) {
	t.Helper()
	if err := f.session.Authenticate(f.session.Exam().AccessCode); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := f.session.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
}

func TestSessionAuthentication(t *testing.T) {
	f := newFixture(t, fiveQuestions())
	s := f.session

	if s.Phase() != PhaseAuthenticating {
		t.Fatalf("initial phase = %s", s.Phase())
	}

	for _, code := range []string{"", "secret42", "SECRET42", "Secret42 "} {
		if err := s.Authenticate(code); !errors.Is(err, ErrAccessCodeMismatch) {
			t.Fatalf("Authenticate(%q) err = %v, want mismatch", code, err)
		}
		if s.Phase() != PhaseAuthenticating {
			t.Fatalf("phase changed after mismatch: %s", s.Phase())
		}
	}

	if err := s.Begin(); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("Begin before auth err = %v", err)
	}

	if err := s.Authenticate("Secret42"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if s.Phase() != PhaseBriefed {
		t.Fatalf("phase = %s, want BRIEFED", s.Phase())
	}
	if v := s.Snapshot(); v.Instructions == nil || v.Instructions.QuestionCount != 5 {
		t.Fatalf("instructions missing from briefed view: %+v", v.Instructions)
	}
	if f.sched.Active() != 0 {
		t.Fatal("timer started before instructions were acknowledged")
	}

	if err := s.Select(0, "A"); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("Select while briefed err = %v", err)
	}
}

func TestSessionSubmitScoresOnce(t *testing.T) {
	f := newFixture(t, fiveQuestions())
	s := f.session
	f.start(t)

	for idx, key := range map[int]string{0: "A", 1: "B", 3: "A", 4: "A"} {
		if err := s.Select(idx, key); err != nil {
			t.Fatalf("Select(%d): %v", idx, err)
		}
	}
	if err := s.Select(9, "A"); !errors.Is(err, ErrQuestionIndex) {
		t.Fatalf("Select out of range err = %v", err)
	}

	f.sched.FireN(50)

	res, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Verdict != VerdictPass || res.CorrectCount != 3 || res.WrongCount != 1 || res.SkippedCount != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.SecondsRemaining != 50 || res.TimeSpent != 50 || res.Reason != FinishSubmitted {
		t.Fatalf("timing = %d remaining, %d spent, reason %s", res.SecondsRemaining, res.TimeSpent, res.Reason)
	}

	// Ticks already in flight after the submit must not change anything.
	f.sched.FireN(10)
	if got := s.SecondsRemaining(); got != 50 {
		t.Fatalf("seconds remaining moved after finish: %d", got)
	}

	again, err := s.Submit(context.Background())
	if !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("second Submit err = %v", err)
	}
	if again.TimeSpent != 50 {
		t.Fatalf("second Submit returned different record")
	}

	if n := f.scored.Load(); n != 1 {
		t.Fatalf("scored %d times, want 1", n)
	}
	if f.reporter.calls() != 1 {
		t.Fatalf("reported %d times, want 1", f.reporter.calls())
	}
	st := s.ReportStatus()
	if st.State != DeliveryDelivered || string(st.Notice) != `{"level_up":true}` {
		t.Fatalf("report status %+v", st)
	}
}

func TestSessionExpiryFinishesWithoutSubmit(t *testing.T) {
	f := newFixture(t, fiveQuestions())
	s := f.session
	f.start(t)

	if err := s.Select(0, "A"); err != nil {
		t.Fatal(err)
	}

	f.sched.FireN(20)
	if s.SecondsRemaining() != 80 || f.events.count(EventWarning) != 0 {
		t.Fatalf("at 80 remaining: remaining=%d warnings=%d", s.SecondsRemaining(), f.events.count(EventWarning))
	}

	f.sched.FireN(60)
	if f.events.count(EventWarning) != 1 {
		t.Fatalf("warnings at 20 remaining = %d, want 1", f.events.count(EventWarning))
	}

	f.sched.FireN(20)
	if s.Phase() != PhaseFinished {
		t.Fatalf("phase after expiry = %s", s.Phase())
	}
	if f.events.count(EventExpired) != 1 || f.events.count(EventWarning) != 1 {
		t.Fatalf("expired=%d warnings=%d", f.events.count(EventExpired), f.events.count(EventWarning))
	}

	res, ok := s.Result()
	if !ok {
		t.Fatal("no result after expiry")
	}
	if res.Reason != FinishExpired || res.SecondsRemaining != 0 || res.TimeSpent != 100 {
		t.Fatalf("expiry result %+v", res)
	}
	if res.Verdict != VerdictFail || res.CorrectCount != 1 || res.SkippedCount != 4 {
		t.Fatalf("expiry scoring %+v", res)
	}
	if !s.Snapshot().Expired {
		t.Fatal("view does not report expiry")
	}
	if f.reporter.calls() != 1 {
		t.Fatalf("expiry reported %d times", f.reporter.calls())
	}

	if _, err := s.Submit(context.Background()); !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("Submit after expiry err = %v", err)
	}
	if f.scored.Load() != 1 {
		t.Fatalf("scored %d times", f.scored.Load())
	}
}

func TestSessionSubmitExpiryRace(t *testing.T) {
	for round := 0; round < 100; round++ {
		def := fiveQuestions()
		def.DurationSeconds = 3
		f := newFixture(t, def)
		f.start(t)
		f.sched.FireN(2)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.session.Submit(context.Background())
		}()
		go func() {
			defer wg.Done()
			f.sched.Fire()
		}()
		wg.Wait()

		if n := f.scored.Load(); n != 1 {
			t.Fatalf("round %d: scored %d times", round, n)
		}
		if f.reporter.calls() != 1 {
			t.Fatalf("round %d: reported %d times", round, f.reporter.calls())
		}
		if f.events.count(EventResult) != 1 {
			t.Fatalf("round %d: %d result events", round, f.events.count(EventResult))
		}
	}
}

func TestSessionFreezeAfterFinish(t *testing.T) {
	f := newFixture(t, fiveQuestions())
	s := f.session
	f.start(t)

	_ = s.Select(0, "A")
	_, _ = s.ToggleReview(1)
	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := s.Snapshot()

	if err := s.Select(0, "B"); !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("Select after finish err = %v", err)
	}
	if _, err := s.ToggleReview(1); !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("ToggleReview after finish err = %v", err)
	}
	if err := s.Navigate(2); !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("Navigate after finish err = %v", err)
	}

	after := s.Snapshot()
	if after.Progress != before.Progress {
		t.Fatalf("progress changed after finish: %+v -> %+v", before.Progress, after.Progress)
	}
	if s.tracker.Selected(0) != "A" || !s.tracker.IsFlagged(1) {
		t.Fatal("tracker mutated after finish")
	}
}

func TestSessionExitDoesNotScore(t *testing.T) {
	f := newFixture(t, fiveQuestions())
	s := f.session
	f.start(t)
	_ = s.Select(0, "A")

	if err := s.Exit(); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if s.Phase() != PhaseAbandoned {
		t.Fatalf("phase = %s", s.Phase())
	}
	if f.sched.Active() != 0 {
		t.Fatal("timer still scheduled after exit")
	}

	f.sched.FireN(200)
	if _, ok := s.Result(); ok {
		t.Fatal("abandoned session produced a result")
	}
	if f.scored.Load() != 0 || f.reporter.calls() != 0 {
		t.Fatalf("abandoned session scored=%d reported=%d", f.scored.Load(), f.reporter.calls())
	}
	if _, err := s.Submit(context.Background()); !errors.Is(err, ErrSessionAbandoned) {
		t.Fatalf("Submit after exit err = %v", err)
	}
	if err := s.Exit(); err != nil {
		t.Fatalf("second Exit err = %v", err)
	}
}

func TestSessionAbandonIfNotStarted(t *testing.T) {
	briefed := newFixture(t, fiveQuestions())
	if err := briefed.session.Authenticate(briefed.session.Exam().AccessCode); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !briefed.session.AbandonIfNotStarted() {
		t.Fatal("briefed session was not abandoned")
	}
	if briefed.session.Phase() != PhaseAbandoned {
		t.Fatalf("phase = %s", briefed.session.Phase())
	}
	if err := briefed.session.Begin(); err == nil {
		t.Fatal("Begin succeeded after abandon")
	}

	running := newFixture(t, fiveQuestions())
	running.start(t)
	if running.session.AbandonIfNotStarted() {
		t.Fatal("in-progress session was abandoned")
	}
	if running.session.Phase() != PhaseInProgress {
		t.Fatalf("phase = %s", running.session.Phase())
	}
	if running.sched.Active() != 1 {
		t.Fatalf("active timers = %d, want 1", running.sched.Active())
	}
}

func TestSessionReportFailureIsRetryable(t *testing.T) {
	f := newFixture(t, fiveQuestions())
	s := f.session
	f.start(t)
	_ = s.Select(0, "A")
	f.reporter.setErr(errReportDown)

	res, err := s.Submit(context.Background())
	if !errors.Is(err, ErrReportFailed) {
		t.Fatalf("Submit err = %v, want ErrReportFailed", err)
	}
	if s.Phase() != PhaseFinished {
		t.Fatalf("phase after failed report = %s", s.Phase())
	}
	if !s.ReportStatus().Retryable() {
		t.Fatalf("status %+v not retryable", s.ReportStatus())
	}

	f.reporter.setErr(nil)
	st, err := s.RetryReport(context.Background())
	if err != nil {
		t.Fatalf("RetryReport: %v", err)
	}
	if st.State != DeliveryDelivered || st.Attempts != 2 {
		t.Fatalf("status after retry %+v", st)
	}

	f.reporter.mu.Lock()
	first, second := f.reporter.reports[0], f.reporter.reports[1]
	f.reporter.mu.Unlock()
	if first.Result.FinishedAt != second.Result.FinishedAt || second.Result.CorrectCount != res.CorrectCount {
		t.Fatal("retry re-scored the session")
	}
	if f.scored.Load() != 1 {
		t.Fatalf("scored %d times", f.scored.Load())
	}

	// Delivered reports are not sent again.
	if _, err := s.RetryReport(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.reporter.calls() != 2 {
		t.Fatalf("reporter called %d times", f.reporter.calls())
	}
}

func TestSessionNavigation(t *testing.T) {
	f := newFixture(t, fiveQuestions())
	s := f.session
	f.start(t)

	if err := s.Previous(); !errors.Is(err, ErrQuestionIndex) {
		t.Fatalf("Previous at start err = %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatal(err)
	}
	if err := s.Navigate(4); err != nil {
		t.Fatal(err)
	}
	if err := s.Next(); !errors.Is(err, ErrQuestionIndex) {
		t.Fatalf("Next at end err = %v", err)
	}

	_ = s.Select(4, "C")
	flagged, err := s.ToggleReview(4)
	if err != nil || !flagged {
		t.Fatalf("ToggleReview = %v, %v", flagged, err)
	}

	v := s.Snapshot()
	if v.CurrentIndex != 4 || v.Question == nil || v.Question.Selected != "C" || !v.Question.Flagged {
		t.Fatalf("view %+v", v.Question)
	}
	if len(v.Question.Options) != 4 || v.Question.Options[0].Key != "A" {
		t.Fatalf("options %+v", v.Question.Options)
	}
	if v.Progress.Answered != 1 || v.Progress.Review != 1 || v.Progress.Unanswered != 4 {
		t.Fatalf("progress %+v", v.Progress)
	}
}

func TestSessionRetakeIsFresh(t *testing.T) {
	f := newFixture(t, fiveQuestions())
	s := f.session

	if _, err := s.Retake(); !errors.Is(err, ErrNotRetakeable) {
		t.Fatalf("Retake before finish err = %v", err)
	}

	f.start(t)
	_ = s.Select(0, "A")
	f.sched.FireN(30)
	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}

	next, err := s.Retake()
	if err != nil {
		t.Fatalf("Retake: %v", err)
	}
	if next.ID() == s.ID() {
		t.Fatal("retake reused the session id")
	}
	if next.Phase() != PhaseAuthenticating || next.SecondsRemaining() != 100 {
		t.Fatalf("retake phase=%s remaining=%d", next.Phase(), next.SecondsRemaining())
	}
	if _, ok := next.Result(); ok {
		t.Fatal("retake carried a result")
	}

	if err := next.Authenticate("Secret42"); err != nil {
		t.Fatal(err)
	}
	if err := next.Begin(); err != nil {
		t.Fatal(err)
	}
	if next.tracker.IsAnswered(0) {
		t.Fatal("retake carried answers")
	}
	if f.sched.Active() != 1 {
		t.Fatalf("active timers = %d, want 1", f.sched.Active())
	}
}

func TestNewSessionRejectsInvalidExam(t *testing.T) {
	def := fiveQuestions()
	def.Questions[2].CorrectOption = "E"
	if _, err := NewSession(def, Identity{ID: "u"}); !errors.Is(err, ErrCorrectNotOption) {
		t.Fatalf("err = %v", err)
	}
	if _, err := NewSession(nil, Identity{ID: "u"}); err == nil {
		t.Fatal("nil exam accepted")
	}
}
