package engine

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors for exam definitions.
var (
	ErrNoQuestions      = errors.New("exam has no questions")
	ErrInvalidDuration  = errors.New("exam duration must be positive")
	ErrInvalidPassMarks = errors.New("passing marks must not be negative")
	ErrCorrectNotOption = errors.New("correct option is not among the question options")
)

// Phase enumerates the states of an exam-taking session.
type Phase string

const (
	PhaseAuthenticating Phase = "AUTHENTICATING"
	PhaseBriefed        Phase = "BRIEFED"
	PhaseInProgress     Phase = "IN_PROGRESS"
	PhaseFinished       Phase = "FINISHED"
	// PhaseAbandoned marks a session discarded by an explicit exit. No result exists.
	PhaseAbandoned Phase = "ABANDONED"
)

// Terminal reports whether no further transition can leave this phase.
func (p Phase) Terminal() bool {
	return p == PhaseFinished || p == PhaseAbandoned
}

// FinishReason records which of the two causes moved a session to FINISHED.
type FinishReason string

const (
	FinishSubmitted FinishReason = "submitted"
	FinishExpired   FinishReason = "expired"
)

// Verdict is the binary outcome of a scored session.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// Identity is the pre-authenticated user supplied by the hosting shell.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Question is a single-answer multiple choice question.
type Question struct {
	ID            string            `json:"id"`
	Prompt        string            `json:"prompt"`
	Media         string            `json:"media,omitempty"`
	Options       map[string]string `json:"options"`
	CorrectOption string            `json:"correct_option"`
	Weight        int               `json:"weight,omitempty"`
	Explanation   string            `json:"explanation,omitempty"`
}

// Points returns the question weight, defaulting to 1.
func (q Question) Points() int {
	if q.Weight <= 0 {
		return 1
	}
	return q.Weight
}

// Validate checks that exactly one correct option exists in the option mapping.
func (q Question) Validate() error {
	if q.CorrectOption == "" {
		return fmt.Errorf("question %s: %w", q.ID, ErrCorrectNotOption)
	}
	if _, ok := q.Options[q.CorrectOption]; !ok {
		return fmt.Errorf("question %s: %w", q.ID, ErrCorrectNotOption)
	}
	return nil
}

// HasOption reports whether key is one of the question's option keys.
func (q Question) HasOption(key string) bool {
	_, ok := q.Options[key]
	return ok
}

// ExamDefinition is the immutable exam an attempt is taken against.
type ExamDefinition struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Category        string     `json:"category"`
	Questions       []Question `json:"questions"`
	DurationSeconds int        `json:"duration_seconds"`
	TotalMarks      int        `json:"total_marks"`
	PassingMarks    int        `json:"passing_marks"`
	Paid            bool       `json:"paid"`
	AccessCode      string     `json:"access_code"`
}

// Validate checks the definition can drive a session.
func (d *ExamDefinition) Validate() error {
	if d.DurationSeconds <= 0 {
		return ErrInvalidDuration
	}
	if len(d.Questions) == 0 {
		return ErrNoQuestions
	}
	if d.PassingMarks < 0 {
		return ErrInvalidPassMarks
	}
	for _, q := range d.Questions {
		if err := q.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Outcome is one classified question in a result.
type Outcome struct {
	Index    int      `json:"index"`
	Question Question `json:"question"`
	Selected string   `json:"selected,omitempty"`
}

// ResultRecord is the immutable, auditable result of one scored session.
type ResultRecord struct {
	ExamID       string    `json:"exam_id"`
	UserID       string    `json:"user_id"`
	Correct      []Outcome `json:"correct"`
	Wrong        []Outcome `json:"wrong"`
	Skipped      []Outcome `json:"skipped"`
	CorrectCount int       `json:"correct_count"`
	WrongCount   int       `json:"wrong_count"`
	SkippedCount int       `json:"skipped_count"`
	Points       int       `json:"points"`
	MaxPoints    int       `json:"max_points"`
	Percentage   float64   `json:"percentage"`
	PassingMarks int       `json:"passing_marks"`
	Verdict      Verdict   `json:"verdict"`

	DurationSeconds  int          `json:"duration_seconds"`
	SecondsRemaining int          `json:"seconds_remaining"`
	TimeSpent        int          `json:"time_spent"`
	Reason           FinishReason `json:"reason"`
	FinishedAt       time.Time    `json:"finished_at"`
}

// Passed reports whether the verdict is PASS.
func (r *ResultRecord) Passed() bool {
	return r.Verdict == VerdictPass
}
