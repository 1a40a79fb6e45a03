package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/model"
)

var testRules = XPRules{PerCorrect: 10, PassBonus: 50, PerLevel: 100}

func sampleReport(t *testing.T, correct int) engine.Report {
	t.Helper()
	store := newFakeExamStore()
	exam := store.add(4, false)
	qs, _ := store.ListQuestions(context.Background(), exam.ID)
	def, err := exam.Definition(qs)
	if err != nil {
		t.Fatal(err)
	}

	answers := make(map[int]string)
	for i := 0; i < correct; i++ {
		answers[i] = "A"
	}
	res := engine.Score(def.Questions, answers, def.PassingMarks)
	res.FinishedAt = time.Now().UTC()
	res.Reason = engine.FinishSubmitted

	return engine.Report{
		SessionID: uuid.NewString(),
		ExamID:    def.ID,
		UserID:    "u-1",
		UserName:  "Ada",
		Result:    res,
		TimeSpent: 30,
	}
}

func decodeNotice(t *testing.T, raw json.RawMessage) Gamification {
	t.Helper()
	var g Gamification
	if err := json.Unmarshal(raw, &g); err != nil {
		t.Fatalf("notice %s: %v", raw, err)
	}
	return g
}

func TestReportServiceAppliesOnce(t *testing.T) {
	mr, rdb := newTestRedis(t)
	svc := NewReportService(rdb, testRules, zerolog.Nop())
	ctx := context.Background()

	r := sampleReport(t, 3) // 3 of 4 correct passes (passing 2)
	raw, err := svc.SubmitReport(ctx, r)
	if err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}
	g := decodeNotice(t, raw)
	if g.XPEarned != 80 || g.TotalXP != 80 || g.Level != 1 || g.LeveledUp {
		t.Fatalf("notice = %+v", g)
	}

	queued, err := mr.List(config.WorkerKey.PersistAttemptsQueue)
	if err != nil || len(queued) != 1 {
		t.Fatalf("queue = %v, %v", queued, err)
	}
	var a model.Attempt
	if err := json.Unmarshal([]byte(queued[0]), &a); err != nil {
		t.Fatal(err)
	}
	if a.SessionID.String() != r.SessionID || a.XPEarned != 80 || a.CorrectCount != 3 || a.UserName != "Ada" {
		t.Fatalf("queued attempt = %+v", a)
	}

	// A retry of the same session is a no-op returning the stored notice.
	again, err := svc.SubmitReport(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != string(raw) {
		t.Fatalf("retry notice %s != %s", again, raw)
	}
	if queued, _ := mr.List(config.WorkerKey.PersistAttemptsQueue); len(queued) != 1 {
		t.Fatalf("retry queued again: %d", len(queued))
	}
	if xp, _ := mr.Get(config.CacheKey.UserXPKey("u-1")); xp != "80" {
		t.Fatalf("xp = %s", xp)
	}
}

func TestReportServiceLevelUp(t *testing.T) {
	_, rdb := newTestRedis(t)
	svc := NewReportService(rdb, testRules, zerolog.Nop())

	first := decodeNotice(t, mustReport(t, svc, sampleReport(t, 2))) // 20 + 50
	if first.Level != 1 || first.LeveledUp {
		t.Fatalf("first = %+v", first)
	}
	second := decodeNotice(t, mustReport(t, svc, sampleReport(t, 1))) // 10, fails
	if second.TotalXP != 80 || second.LeveledUp {
		t.Fatalf("second = %+v", second)
	}
	third := decodeNotice(t, mustReport(t, svc, sampleReport(t, 4))) // 40 + 50
	if third.TotalXP != 170 || third.Level != 2 || !third.LeveledUp {
		t.Fatalf("third = %+v", third)
	}
}

func mustReport(t *testing.T, svc *ReportService, r engine.Report) json.RawMessage {
	t.Helper()
	raw, err := svc.SubmitReport(context.Background(), r)
	if err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}
	return raw
}

func TestReportServiceRetryAfterRedisFailure(t *testing.T) {
	mr, rdb := newTestRedis(t)
	svc := NewReportService(rdb, testRules, zerolog.Nop())
	r := sampleReport(t, 1)

	mr.SetError("server unavailable")
	if _, err := svc.SubmitReport(context.Background(), r); err == nil {
		t.Fatal("expected error while redis is failing")
	}
	mr.SetError("")

	if mr.Exists(config.CacheKey.AttemptReportedKey(r.SessionID)) {
		t.Fatal("claim kept after failure")
	}
	raw, err := svc.SubmitReport(context.Background(), r)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if decodeNotice(t, raw).XPEarned != 10 {
		t.Fatalf("retry notice %s", raw)
	}
}

func TestReportServiceUnfinishedClaimExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	svc := NewReportService(rdb, testRules, zerolog.Nop())
	r := sampleReport(t, 1)
	key := config.CacheKey.AttemptReportedKey(r.SessionID)

	// A claim left behind by a delivery that never applied.
	if err := mr.Set(key, reportPending); err != nil {
		t.Fatal(err)
	}
	mr.SetTTL(key, reportPendingTTL)

	if _, err := svc.SubmitReport(context.Background(), r); !errors.Is(err, ErrReportPending) {
		t.Fatalf("SubmitReport with pending claim err = %v", err)
	}
	if queued, _ := mr.List(config.WorkerKey.PersistAttemptsQueue); len(queued) != 0 {
		t.Fatalf("pending claim queued %d attempts", len(queued))
	}

	mr.FastForward(reportPendingTTL)
	raw, err := svc.SubmitReport(context.Background(), r)
	if err != nil {
		t.Fatalf("SubmitReport after claim expired: %v", err)
	}
	if decodeNotice(t, raw).XPEarned != 10 {
		t.Fatalf("notice %s", raw)
	}
	if queued, _ := mr.List(config.WorkerKey.PersistAttemptsQueue); len(queued) != 1 {
		t.Fatalf("queue len = %d", len(queued))
	}
	if ttl := mr.TTL(key); ttl != reportedTTL {
		t.Fatalf("notice ttl = %v, want %v", ttl, reportedTTL)
	}
}

func TestReportServiceRejectsBadIDs(t *testing.T) {
	_, rdb := newTestRedis(t)
	svc := NewReportService(rdb, testRules, zerolog.Nop())
	r := sampleReport(t, 1)
	r.SessionID = "nope"
	if _, err := svc.SubmitReport(context.Background(), r); err == nil {
		t.Fatal("bad session id accepted")
	}
}

func TestXPRules(t *testing.T) {
	if got := (XPRules{}).Level(1000); got != 1 {
		t.Fatalf("level without PerLevel = %d", got)
	}
	if got := testRules.Level(99); got != 1 {
		t.Fatalf("level(99) = %d", got)
	}
	if got := testRules.Level(100); got != 2 {
		t.Fatalf("level(100) = %d", got)
	}
}
