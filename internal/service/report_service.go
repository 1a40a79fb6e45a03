package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// reportedTTL bounds how long a delivered report stays deduplicated.
const reportedTTL = 7 * 24 * time.Hour

// reportPendingTTL bounds a claim whose apply never completed.
const reportPendingTTL = 2 * time.Minute

const reportPending = "pending"

// ErrReportPending is returned while another delivery of the same report holds the claim.
var ErrReportPending = errors.New("report is still being applied")

// Gamification is the side effect of a reported attempt. The engine relays it
// to the display layer as an opaque notice.
type Gamification struct {
	XPEarned  int   `json:"xp_earned"`
	TotalXP   int64 `json:"total_xp"`
	Level     int   `json:"level"`
	LeveledUp bool  `json:"leveled_up"`
}

// XPRules configures experience points awarded per attempt.
type XPRules struct {
	PerCorrect int
	PassBonus  int
	PerLevel   int
}

// Earned returns the XP a result is worth.
func (r XPRules) Earned(res engine.ResultRecord) int {
	xp := res.CorrectCount * r.PerCorrect
	if res.Passed() {
		xp += r.PassBonus
	}
	return xp
}

// Level maps total XP to a 1-based level.
func (r XPRules) Level(total int64) int {
	if r.PerLevel <= 0 {
		return 1
	}
	return int(total/int64(r.PerLevel)) + 1
}

// monitorEvent is published on the exam monitor channel when an attempt finishes.
type monitorEvent struct {
	Event     string         `json:"event"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Verdict   engine.Verdict `json:"verdict"`
	Correct   int            `json:"correct"`
	Total     int            `json:"total"`
	Reason    string         `json:"reason"`
}

// ReportService applies a finished attempt: awards XP, queues it for
// persistence and notifies exam monitors. Reports are idempotent per session.
type ReportService struct {
	rdb   *redis.Client
	rules XPRules
	log   zerolog.Logger
}

// NewReportService creates a new ReportService.
func NewReportService(rdb *redis.Client, rules XPRules, log zerolog.Logger) *ReportService {
	return &ReportService{
		rdb:   rdb,
		rules: rules,
		log:   log.With().Str("component", "report_service").Logger(),
	}
}

// SubmitReport implements engine.Reporter.
func (s *ReportService) SubmitReport(ctx context.Context, r engine.Report) (json.RawMessage, error) {
	attempt, err := model.NewAttempt(r)
	if err != nil {
		return nil, fmt.Errorf("build attempt: %w", err)
	}

	doneKey := config.CacheKey.AttemptReportedKey(r.SessionID)
	claimed, err := s.rdb.SetNX(ctx, doneKey, reportPending, reportPendingTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("claim report: %w", err)
	}
	if !claimed {
		return s.previousNotice(ctx, doneKey)
	}

	notice, err := s.apply(ctx, r, attempt)
	if err != nil {
		// Release the claim so a retry can apply the report.
		_ = s.rdb.Del(context.WithoutCancel(ctx), doneKey).Err()
		return nil, err
	}

	raw, err := json.Marshal(notice)
	if err != nil {
		return nil, fmt.Errorf("marshal notice: %w", err)
	}
	if err := s.rdb.Set(ctx, doneKey, raw, reportedTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", r.SessionID).Msg("Failed to store report notice")
	}

	s.publish(ctx, r)

	s.log.Info().
		Str("session_id", r.SessionID).
		Str("exam_id", r.ExamID).
		Str("user_id", r.UserID).
		Int("xp_earned", notice.XPEarned).
		Bool("leveled_up", notice.LeveledUp).
		Msg("Attempt reported")
	return raw, nil
}

// apply awards XP and enqueues the attempt in one transaction.
func (s *ReportService) apply(ctx context.Context, r engine.Report, attempt *model.Attempt) (*Gamification, error) {
	earned := s.rules.Earned(r.Result)
	attempt.XPEarned = earned

	payload, err := json.Marshal(attempt)
	if err != nil {
		return nil, fmt.Errorf("marshal attempt: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	total := pipe.IncrBy(ctx, config.CacheKey.UserXPKey(r.UserID), int64(earned))
	pipe.RPush(ctx, config.WorkerKey.PersistAttemptsQueue, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("apply report: %w", err)
	}

	after := total.Val()
	before := after - int64(earned)
	level := s.rules.Level(after)

	return &Gamification{
		XPEarned:  earned,
		TotalXP:   after,
		Level:     level,
		LeveledUp: level > s.rules.Level(before),
	}, nil
}

func (s *ReportService) previousNotice(ctx context.Context, doneKey string) (json.RawMessage, error) {
	val, err := s.rdb.Get(ctx, doneKey).Result()
	if errors.Is(err, redis.Nil) || val == reportPending {
		return nil, ErrReportPending
	}
	if err != nil {
		return nil, fmt.Errorf("read report notice: %w", err)
	}
	return json.RawMessage(val), nil
}

// publish is best-effort; monitors may be absent.
func (s *ReportService) publish(ctx context.Context, r engine.Report) {
	ev := monitorEvent{
		Event:     "attempt_finished",
		SessionID: r.SessionID,
		UserID:    r.UserID,
		Verdict:   r.Result.Verdict,
		Correct:   r.Result.CorrectCount,
		Total:     r.Result.CorrectCount + r.Result.WrongCount + r.Result.SkippedCount,
		Reason:    string(r.Result.Reason),
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(r.ExamID), raw).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", r.ExamID).Msg("Monitor publish failed")
	}
}
