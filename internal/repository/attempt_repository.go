package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// AttemptRepository persists finished attempts.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// InsertBatch writes a batch of attempts in one statement using UNNEST.
// Attempts already stored (same session id) are skipped.
func (r *AttemptRepository) InsertBatch(ctx context.Context, batch []*model.Attempt) error {
	n := len(batch)
	if n == 0 {
		return nil
	}

	sessionIDs := make([]uuid.UUID, n)
	examIDs := make([]uuid.UUID, n)
	userIDs := make([]string, n)
	userNames := make([]string, n)
	correct := make([]int, n)
	wrong := make([]int, n)
	skipped := make([]int, n)
	points := make([]int, n)
	maxPoints := make([]int, n)
	percentages := make([]float64, n)
	verdicts := make([]string, n)
	reasons := make([]string, n)
	timeSpent := make([]int, n)
	xp := make([]int, n)
	answers := make([]string, n)
	finishedAts := make([]time.Time, n)

	for i, a := range batch {
		raw, err := json.Marshal(a.Answers)
		if err != nil {
			return err
		}
		sessionIDs[i] = a.SessionID
		examIDs[i] = a.ExamID
		userIDs[i] = a.UserID
		userNames[i] = a.UserName
		correct[i] = a.CorrectCount
		wrong[i] = a.WrongCount
		skipped[i] = a.SkippedCount
		points[i] = a.Points
		maxPoints[i] = a.MaxPoints
		percentages[i] = a.Percentage
		verdicts[i] = string(a.Verdict)
		reasons[i] = string(a.Reason)
		timeSpent[i] = a.TimeSpentSeconds
		xp[i] = a.XPEarned
		answers[i] = string(raw)
		finishedAts[i] = a.FinishedAt
	}

	query := `
		INSERT INTO exam_attempts (
			session_id, exam_id, user_id, user_name,
			correct_count, wrong_count, skipped_count,
			points, max_points, percentage, verdict, reason,
			time_spent_seconds, xp_earned, answers, finished_at
		)
		SELECT
			u.session_id, u.exam_id, u.user_id, u.user_name,
			u.correct_count, u.wrong_count, u.skipped_count,
			u.points, u.max_points, u.percentage, u.verdict, u.reason,
			u.time_spent_seconds, u.xp_earned, u.answers::jsonb, u.finished_at
		FROM UNNEST(
			$1::uuid[], $2::uuid[], $3::text[], $4::text[],
			$5::int[], $6::int[], $7::int[],
			$8::int[], $9::int[], $10::float8[], $11::text[], $12::text[],
			$13::int[], $14::int[], $15::text[], $16::timestamptz[]
		) AS u (
			session_id, exam_id, user_id, user_name,
			correct_count, wrong_count, skipped_count,
			points, max_points, percentage, verdict, reason,
			time_spent_seconds, xp_earned, answers, finished_at
		)
		ON CONFLICT (session_id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		sessionIDs, examIDs, userIDs, userNames,
		correct, wrong, skipped,
		points, maxPoints, percentages, verdicts, reasons,
		timeSpent, xp, answers, finishedAts,
	)
	return err
}

// Insert writes a single attempt. Used as the fallback when a batch fails.
func (r *AttemptRepository) Insert(ctx context.Context, a *model.Attempt) error {
	raw, err := json.Marshal(a.Answers)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO exam_attempts (
			session_id, exam_id, user_id, user_name,
			correct_count, wrong_count, skipped_count,
			points, max_points, percentage, verdict, reason,
			time_spent_seconds, xp_earned, answers, finished_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb, $16)
		 ON CONFLICT (session_id) DO NOTHING`,
		a.SessionID, a.ExamID, a.UserID, a.UserName,
		a.CorrectCount, a.WrongCount, a.SkippedCount,
		a.Points, a.MaxPoints, a.Percentage, string(a.Verdict), string(a.Reason),
		a.TimeSpentSeconds, a.XPEarned, string(raw), a.FinishedAt,
	)
	return err
}

// ListByExam returns the stored attempts of an exam, newest first.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, exam_id, user_id, user_name,
		        correct_count, wrong_count, skipped_count,
		        points, max_points, percentage, verdict, reason,
		        time_spent_seconds, xp_earned, answers, finished_at
		 FROM exam_attempts
		 WHERE exam_id = $1
		 ORDER BY finished_at DESC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		var (
			a       model.Attempt
			verdict string
			reason  string
			raw     []byte
		)
		if err := rows.Scan(&a.SessionID, &a.ExamID, &a.UserID, &a.UserName,
			&a.CorrectCount, &a.WrongCount, &a.SkippedCount,
			&a.Points, &a.MaxPoints, &a.Percentage, &verdict, &reason,
			&a.TimeSpentSeconds, &a.XPEarned, &raw, &a.FinishedAt); err != nil {
			return nil, err
		}
		a.Verdict = engine.Verdict(verdict)
		a.Reason = engine.FinishReason(reason)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &a.Answers); err != nil {
				return nil, err
			}
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
