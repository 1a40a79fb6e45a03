package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/engine"
)

// Attempt is one finished, scored session as persisted in exam_attempts.
// It is also the payload of the persist_attempts_queue.
type Attempt struct {
	SessionID        uuid.UUID           `json:"session_id"`
	ExamID           uuid.UUID           `json:"exam_id"`
	UserID           string              `json:"user_id"`
	UserName         string              `json:"user_name"`
	CorrectCount     int                 `json:"correct_count"`
	WrongCount       int                 `json:"wrong_count"`
	SkippedCount     int                 `json:"skipped_count"`
	Points           int                 `json:"points"`
	MaxPoints        int                 `json:"max_points"`
	Percentage       float64             `json:"percentage"`
	Verdict          engine.Verdict      `json:"verdict"`
	Reason           engine.FinishReason `json:"reason"`
	TimeSpentSeconds int                 `json:"time_spent_seconds"`
	XPEarned         int                 `json:"xp_earned"`
	Answers          map[string]string   `json:"answers"` // question id -> selected key
	FinishedAt       time.Time           `json:"finished_at"`
}

// NewAttempt flattens a session report for persistence.
func NewAttempt(r engine.Report) (*Attempt, error) {
	sessionID, err := uuid.Parse(r.SessionID)
	if err != nil {
		return nil, err
	}
	examID, err := uuid.Parse(r.ExamID)
	if err != nil {
		return nil, err
	}

	res := r.Result
	answers := make(map[string]string, res.CorrectCount+res.WrongCount)
	for _, group := range [][]engine.Outcome{res.Correct, res.Wrong} {
		for _, o := range group {
			answers[o.Question.ID] = o.Selected
		}
	}

	return &Attempt{
		SessionID:        sessionID,
		ExamID:           examID,
		UserID:           r.UserID,
		UserName:         r.UserName,
		CorrectCount:     res.CorrectCount,
		WrongCount:       res.WrongCount,
		SkippedCount:     res.SkippedCount,
		Points:           res.Points,
		MaxPoints:        res.MaxPoints,
		Percentage:       res.Percentage,
		Verdict:          res.Verdict,
		Reason:           res.Reason,
		TimeSpentSeconds: r.TimeSpent,
		Answers:          answers,
		FinishedAt:       res.FinishedAt,
	}, nil
}
