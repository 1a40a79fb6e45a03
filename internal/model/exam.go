package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/engine"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam represents an exam row. Authoring happens elsewhere; this service only reads it.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Category        string     `json:"category"`
	DurationSeconds int        `json:"duration_seconds"`
	TotalMarks      int        `json:"total_marks"`
	PassingMarks    int        `json:"passing_marks"`
	IsPaid          bool       `json:"is_paid"`
	AccessCode      string     `json:"-"`
	Status          ExamStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Question represents a single multiple-choice question of an exam.
// Options is a JSON object mapping option key to option text.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	ExamID        uuid.UUID       `json:"exam_id"`
	QuestionText  string          `json:"question_text"`
	MediaURL      *string         `json:"media_url,omitempty"`
	Options       json.RawMessage `json:"options"`
	CorrectOption string          `json:"correct_option"`
	Weight        int             `json:"weight"`
	Explanation   *string         `json:"explanation,omitempty"`
	OrderNum      int             `json:"order_num"`
}

var ErrExamNotPublished = errors.New("exam is not published")

// Definition converts the stored exam and its ordered questions into the
// immutable definition a session runs against.
func (e *Exam) Definition(questions []Question) (*engine.ExamDefinition, error) {
	if e.Status != ExamStatusPublished {
		return nil, ErrExamNotPublished
	}

	def := &engine.ExamDefinition{
		ID:              e.ID.String(),
		Name:            e.Title,
		Category:        e.Category,
		Questions:       make([]engine.Question, 0, len(questions)),
		DurationSeconds: e.DurationSeconds,
		TotalMarks:      e.TotalMarks,
		PassingMarks:    e.PassingMarks,
		Paid:            e.IsPaid,
		AccessCode:      e.AccessCode,
	}

	for _, q := range questions {
		var opts map[string]string
		if err := json.Unmarshal(q.Options, &opts); err != nil {
			return nil, fmt.Errorf("question %s options: %w", q.ID, err)
		}
		eq := engine.Question{
			ID:            q.ID.String(),
			Prompt:        q.QuestionText,
			Options:       opts,
			CorrectOption: q.CorrectOption,
			Weight:        q.Weight,
		}
		if q.MediaURL != nil {
			eq.Media = *q.MediaURL
		}
		if q.Explanation != nil {
			eq.Explanation = *q.Explanation
		}
		def.Questions = append(def.Questions, eq)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}
