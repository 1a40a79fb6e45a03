package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Session errors.
var (
	ErrAccessCodeMismatch = errors.New("access code does not match")
	ErrInvalidPhase       = errors.New("operation not allowed in current phase")
	ErrSessionFinished    = errors.New("session is already finished")
	ErrSessionAbandoned   = errors.New("session was abandoned")
	ErrQuestionIndex      = errors.New("question index out of range")
	ErrReportInFlight     = errors.New("report submission already in flight")
	ErrReportFailed       = errors.New("report submission failed")
	ErrNotRetakeable      = errors.New("session must be finished or abandoned before a retake")
)

// DefaultReportTimeout bounds a report submission triggered by expiry.
const DefaultReportTimeout = 15 * time.Second

// Report is handed to the reporting collaborator once a session is scored.
type Report struct {
	SessionID        string       `json:"session_id"`
	ExamID           string       `json:"exam_id"`
	UserID           string       `json:"user_id"`
	UserName         string       `json:"user_name"`
	Result           ResultRecord `json:"result"`
	SecondsRemaining int          `json:"seconds_remaining"`
	TimeSpent        int          `json:"time_spent"`
}

// Reporter persists a finished attempt. The returned notice (for example a
// level-up) is opaque to the engine and passed through to listeners.
type Reporter interface {
	SubmitReport(ctx context.Context, report Report) (json.RawMessage, error)
}

// DeliveryState tracks the persistence step of a finished session.
type DeliveryState string

const (
	DeliveryNone      DeliveryState = "NONE"
	DeliveryPending   DeliveryState = "PENDING"
	DeliveryDelivered DeliveryState = "DELIVERED"
	DeliveryFailed    DeliveryState = "FAILED"
)

// ReportStatus is the outcome of the latest report submission.
type ReportStatus struct {
	State    DeliveryState   `json:"state"`
	Attempts int             `json:"attempts"`
	Error    string          `json:"error,omitempty"`
	Notice   json.RawMessage `json:"notice,omitempty"`
}

// Retryable reports whether the user should be offered a retry.
func (r ReportStatus) Retryable() bool { return r.State == DeliveryFailed }

// Option configures a Session.
type Option func(*Session)

// WithReporter sets the outbound report collaborator.
func WithReporter(r Reporter) Option { return func(s *Session) { s.reporter = r } }

// WithScheduler sets the tick source of the session timer.
func WithScheduler(sc Scheduler) Option { return func(s *Session) { s.scheduler = sc } }

// WithScorer replaces Score.
func WithScorer(fn Scorer) Option { return func(s *Session) { s.scorer = fn } }

// WithClock sets the wall clock used for timestamps.
func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// WithLogger sets the session logger.
func WithLogger(log zerolog.Logger) Option { return func(s *Session) { s.baseLog = log } }

// WithReportTimeout bounds report submissions started by timer expiry.
func WithReportTimeout(d time.Duration) Option { return func(s *Session) { s.reportTimeout = d } }

// Session is the state machine for one user's single timed attempt at one exam.
// Timer ticks and user intents are serialised by mu; the finishing flag is
// checked and set inside the same critical section that scores, so exactly
// one of submit or expiry can finish a session.
type Session struct {
	mu sync.Mutex

	id       string
	def      *ExamDefinition
	identity Identity
	opts     []Option

	phase            Phase
	timer            *Timer
	tracker          *AnswerTracker
	current          int
	secondsRemaining int
	expired          bool
	finishing        bool
	result           *ResultRecord

	status     ReportStatus
	delivering bool

	listeners    map[int]Listener
	nextListener int

	reporter      Reporter
	scheduler     Scheduler
	scorer        Scorer
	now           func() time.Time
	reportTimeout time.Duration
	baseLog       zerolog.Logger
	log           zerolog.Logger

	createdAt time.Time
	updatedAt time.Time
}

// NewSession creates a session in AUTHENTICATING for def and identity.
// def is shared read-only and must not be mutated by the caller afterwards.
func NewSession(def *ExamDefinition, identity Identity, opts ...Option) (*Session, error) {
	if def == nil {
		return nil, errors.New("nil exam definition")
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid exam %s: %w", def.ID, err)
	}

	s := &Session{
		id:            uuid.NewString(),
		def:           def,
		identity:      identity,
		opts:          opts,
		phase:         PhaseAuthenticating,
		tracker:       NewAnswerTracker(),
		status:        ReportStatus{State: DeliveryNone},
		listeners:     make(map[int]Listener),
		scorer:        Score,
		now:           time.Now,
		reportTimeout: DefaultReportTimeout,
		baseLog:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.timer = NewTimer(s.scheduler)
	s.secondsRemaining = def.DurationSeconds
	s.createdAt = s.now()
	s.updatedAt = s.createdAt
	s.log = s.baseLog.With().
		Str("session_id", s.id).
		Str("exam_id", def.ID).
		Str("user_id", identity.ID).
		Logger()

	return s, nil
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Exam() *ExamDefinition { return s.def }
func (s *Session) Identity() Identity    { return s.identity }
func (s *Session) CreatedAt() time.Time  { return s.createdAt }

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) SecondsRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secondsRemaining
}

// UpdatedAt is the time of the last state change, used for idle eviction.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

func (s *Session) ReportStatus() ReportStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Result returns a copy of the result record once the session is finished.
func (s *Session) Result() (ResultRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return ResultRecord{}, false
	}
	return s.result.clone(), true
}

// Authenticate compares code against the exam's access code (exact, case-sensitive).
// A mismatch leaves the session unchanged so the user can be re-prompted.
func (s *Session) Authenticate(code string) error {
	s.mu.Lock()
	if s.phase != PhaseAuthenticating {
		err := s.phaseError()
		s.mu.Unlock()
		return err
	}
	if code != s.def.AccessCode {
		s.mu.Unlock()
		s.log.Debug().Msg("Access code mismatch")
		return ErrAccessCodeMismatch
	}

	s.phase = PhaseBriefed
	s.touchLocked()
	ev, ls := s.phaseEventLocked()
	s.mu.Unlock()

	s.log.Info().Msg("Session authenticated")
	dispatch(ls, ev)
	return nil
}

// Begin records the user's acknowledgement of the instructions and starts the timer.
func (s *Session) Begin() error {
	s.mu.Lock()
	if s.phase != PhaseBriefed {
		err := s.phaseError()
		s.mu.Unlock()
		return err
	}

	s.phase = PhaseInProgress
	s.secondsRemaining = s.def.DurationSeconds
	s.current = 0
	s.timer.Start(s.def.DurationSeconds, s.handleTick, s.handleWarning, s.handleExpire)
	s.touchLocked()
	ev, ls := s.phaseEventLocked()
	s.mu.Unlock()

	s.log.Info().Int("duration_seconds", s.def.DurationSeconds).Msg("Exam started")
	dispatch(ls, ev)
	return nil
}

// Select records key as the answer to question index.
func (s *Session) Select(index int, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgressLocked(); err != nil {
		return err
	}
	if !s.validIndex(index) {
		return ErrQuestionIndex
	}
	s.tracker.Select(index, key)
	s.touchLocked()
	return nil
}

// ToggleReview flips the review flag of question index and returns the new flag.
func (s *Session) ToggleReview(index int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgressLocked(); err != nil {
		return false, err
	}
	if !s.validIndex(index) {
		return false, ErrQuestionIndex
	}
	s.tracker.ToggleReview(index)
	s.touchLocked()
	return s.tracker.IsFlagged(index), nil
}

// Navigate moves the cursor to question index.
func (s *Session) Navigate(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgressLocked(); err != nil {
		return err
	}
	if !s.validIndex(index) {
		return ErrQuestionIndex
	}
	s.current = index
	s.touchLocked()
	return nil
}

// Next moves to the following question.
func (s *Session) Next() error {
	s.mu.Lock()
	idx := s.current + 1
	s.mu.Unlock()
	return s.Navigate(idx)
}

// Previous moves to the preceding question.
func (s *Session) Previous() error {
	s.mu.Lock()
	idx := s.current - 1
	s.mu.Unlock()
	return s.Navigate(idx)
}

// Submit finishes the session on explicit confirmation, scores it and hands
// the result to the reporter. A second submit returns the existing result with
// ErrSessionFinished and never scores again. A report failure is returned
// wrapped in ErrReportFailed alongside the final result.
func (s *Session) Submit(ctx context.Context) (ResultRecord, error) {
	s.mu.Lock()
	if s.finishing || s.phase == PhaseFinished {
		var res ResultRecord
		if s.result != nil {
			res = s.result.clone()
		}
		s.mu.Unlock()
		return res, ErrSessionFinished
	}
	if s.phase != PhaseInProgress {
		err := s.phaseError()
		s.mu.Unlock()
		return ResultRecord{}, err
	}

	res, evs, ls := s.finishLocked(FinishSubmitted)
	s.mu.Unlock()

	s.log.Info().
		Str("verdict", string(res.Verdict)).
		Int("correct", res.CorrectCount).
		Int("time_spent", res.TimeSpent).
		Msg("Exam submitted")
	dispatch(ls, evs...)

	if err := s.deliver(ctx); err != nil {
		return res, fmt.Errorf("%w: %v", ErrReportFailed, err)
	}
	return res, nil
}

// Exit abandons the session without scoring. Exiting an abandoned session is a no-op.
func (s *Session) Exit() error {
	s.mu.Lock()
	switch {
	case s.phase == PhaseAbandoned:
		s.mu.Unlock()
		return nil
	case s.finishing || s.phase == PhaseFinished:
		s.mu.Unlock()
		return ErrSessionFinished
	}

	s.abandonLocked()
	return nil
}

// AbandonIfNotStarted abandons the session only while its timer has not
// started. It reports whether the session was abandoned.
func (s *Session) AbandonIfNotStarted() bool {
	s.mu.Lock()
	if s.phase != PhaseAuthenticating && s.phase != PhaseBriefed {
		s.mu.Unlock()
		return false
	}
	s.abandonLocked()
	return true
}

// abandonLocked moves to ABANDONED and releases s.mu before dispatching.
func (s *Session) abandonLocked() {
	s.phase = PhaseAbandoned
	s.timer.Stop()
	s.tracker.Freeze()
	s.touchLocked()
	ev, ls := s.phaseEventLocked()
	s.mu.Unlock()

	s.log.Info().Msg("Session abandoned")
	dispatch(ls, ev)
}

// RetryReport re-submits the already-final result after a failed submission.
func (s *Session) RetryReport(ctx context.Context) (ReportStatus, error) {
	s.mu.Lock()
	if s.phase != PhaseFinished {
		err := s.phaseError()
		s.mu.Unlock()
		return ReportStatus{}, err
	}
	if s.delivering {
		st := s.status
		s.mu.Unlock()
		return st, ErrReportInFlight
	}
	if s.status.State == DeliveryDelivered {
		st := s.status
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	err := s.deliver(ctx)
	st := s.ReportStatus()
	if err != nil {
		return st, fmt.Errorf("%w: %v", ErrReportFailed, err)
	}
	return st, nil
}

// Retake creates a brand-new session for the same exam and identity.
// Nothing carries over from this session.
func (s *Session) Retake() (*Session, error) {
	s.mu.Lock()
	terminal := s.phase.Terminal()
	s.mu.Unlock()
	if !terminal {
		return nil, ErrNotRetakeable
	}
	s.Close()
	return NewSession(s.def, s.identity, s.opts...)
}

// Subscribe registers l for session events and returns a func that removes it.
func (s *Session) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.addListener(l)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Close releases the timer and drops listeners. The session state is not scored.
func (s *Session) Close() {
	s.mu.Lock()
	s.timer.Stop()
	s.listeners = make(map[int]Listener)
	s.mu.Unlock()
}

// ─── Timer callbacks ────────────────────────────────────────────────

func (s *Session) handleTick(remaining int) {
	s.mu.Lock()
	if s.phase != PhaseInProgress || s.finishing {
		s.mu.Unlock()
		return
	}
	s.secondsRemaining = remaining
	ev := Event{Type: EventTick, SessionID: s.id, Phase: s.phase, SecondsRemaining: remaining}
	ls := s.listenerSnapshotLocked()
	s.mu.Unlock()

	dispatch(ls, ev)
}

func (s *Session) handleWarning() {
	s.mu.Lock()
	if s.phase != PhaseInProgress || s.finishing {
		s.mu.Unlock()
		return
	}
	ev := Event{Type: EventWarning, SessionID: s.id, Phase: s.phase, SecondsRemaining: s.secondsRemaining}
	ls := s.listenerSnapshotLocked()
	s.mu.Unlock()

	s.log.Debug().Int("seconds_remaining", ev.SecondsRemaining).Msg("Time warning")
	dispatch(ls, ev)
}

func (s *Session) handleExpire() {
	s.mu.Lock()
	if s.phase != PhaseInProgress || s.finishing {
		s.mu.Unlock()
		return
	}
	s.expired = true
	s.secondsRemaining = 0
	res, evs, ls := s.finishLocked(FinishExpired)
	s.mu.Unlock()

	s.log.Info().
		Str("verdict", string(res.Verdict)).
		Int("correct", res.CorrectCount).
		Msg("Exam time expired")
	expiredEv := Event{Type: EventExpired, SessionID: s.id, Phase: PhaseFinished}
	dispatch(ls, append([]Event{expiredEv}, evs...)...)

	ctx, cancel := context.WithTimeout(context.Background(), s.reportTimeout)
	defer cancel()
	if err := s.deliver(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Report after expiry failed")
	}
}

// ─── Internals ──────────────────────────────────────────────────────

// finishLocked performs the exit action of IN_PROGRESS: stop the timer,
// freeze answers and score exactly once. Caller holds mu and has checked
// that finishing is false.
func (s *Session) finishLocked(reason FinishReason) (ResultRecord, []Event, []Listener) {
	s.finishing = true
	s.timer.Stop()
	s.tracker.Freeze()

	res := s.scorer(s.def.Questions, s.tracker.Answers(), s.def.PassingMarks)
	res.ExamID = s.def.ID
	res.UserID = s.identity.ID
	res.DurationSeconds = s.def.DurationSeconds
	res.SecondsRemaining = s.secondsRemaining
	res.TimeSpent = s.def.DurationSeconds - s.secondsRemaining
	res.Reason = reason
	res.FinishedAt = s.now()

	s.result = &res
	s.phase = PhaseFinished
	s.touchLocked()

	out := res.clone()
	phaseEv, ls := s.phaseEventLocked()
	resultEv := Event{Type: EventResult, SessionID: s.id, Phase: s.phase, Result: &out}
	return out, []Event{phaseEv, resultEv}, ls
}

// deliver submits the report unless one is delivered or in flight.
func (s *Session) deliver(ctx context.Context) error {
	s.mu.Lock()
	if s.reporter == nil || s.result == nil || s.delivering || s.status.State == DeliveryDelivered {
		s.mu.Unlock()
		return nil
	}
	s.delivering = true
	s.status.State = DeliveryPending
	s.status.Attempts++
	s.status.Error = ""
	report := Report{
		SessionID:        s.id,
		ExamID:           s.def.ID,
		UserID:           s.identity.ID,
		UserName:         s.identity.Name,
		Result:           s.result.clone(),
		SecondsRemaining: s.result.SecondsRemaining,
		TimeSpent:        s.result.TimeSpent,
	}
	s.mu.Unlock()

	notice, err := s.reporter.SubmitReport(ctx, report)

	s.mu.Lock()
	s.delivering = false
	if err != nil {
		s.status.State = DeliveryFailed
		s.status.Error = err.Error()
	} else {
		s.status.State = DeliveryDelivered
		s.status.Notice = notice
	}
	st := s.status
	s.touchLocked()
	ev := Event{Type: EventReport, SessionID: s.id, Phase: s.phase, Report: &st}
	ls := s.listenerSnapshotLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Int("attempt", st.Attempts).Msg("Report submission failed")
	} else {
		s.log.Info().Int("attempt", st.Attempts).Msg("Report delivered")
	}
	dispatch(ls, ev)
	return err
}

func (s *Session) requireInProgressLocked() error {
	if s.phase == PhaseInProgress && !s.finishing {
		return nil
	}
	return s.phaseError()
}

// phaseError maps the current phase to the error returned for a disallowed op.
// Caller holds mu.
func (s *Session) phaseError() error {
	switch {
	case s.phase == PhaseFinished || s.finishing:
		return ErrSessionFinished
	case s.phase == PhaseAbandoned:
		return ErrSessionAbandoned
	default:
		return fmt.Errorf("%w: %s", ErrInvalidPhase, s.phase)
	}
}

func (s *Session) validIndex(i int) bool {
	return i >= 0 && i < len(s.def.Questions)
}

func (s *Session) touchLocked() { s.updatedAt = s.now() }

func (s *Session) addListener(l Listener) int {
	if s.listeners == nil {
		s.listeners = make(map[int]Listener)
	}
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	return id
}

func (s *Session) listenerSnapshotLocked() []Listener {
	ls := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextListener; i++ {
		if l, ok := s.listeners[i]; ok {
			ls = append(ls, l)
		}
	}
	return ls
}

func (s *Session) phaseEventLocked() (Event, []Listener) {
	ev := Event{Type: EventPhase, SessionID: s.id, Phase: s.phase, SecondsRemaining: s.secondsRemaining}
	return ev, s.listenerSnapshotLocked()
}

func (r ResultRecord) clone() ResultRecord {
	r.Correct = cloneOutcomes(r.Correct)
	r.Wrong = cloneOutcomes(r.Wrong)
	r.Skipped = cloneOutcomes(r.Skipped)
	return r
}

func cloneOutcomes(in []Outcome) []Outcome {
	out := make([]Outcome, len(in))
	copy(out, in)
	return out
}
