package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

const (
	keepAliveInterval = 30 * time.Second
	snapshotTimeout   = 5 * time.Second // prevent slow queries from blocking the SSE loop
	snapshotLimit     = 50
)

type MonitorHandler struct {
	rdb      *redis.Client
	attempts service.AttemptLister
	log      zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, attempts service.AttemptLister, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:      rdb,
		attempts: attempts,
		log:      log.With().Str("component", "monitor_handler").Logger(),
	}
}

type monitorAttempt struct {
	SessionID  uuid.UUID `json:"session_id"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	Verdict    string    `json:"verdict"`
	Correct    int       `json:"correct"`
	Percentage float64   `json:"percentage"`
	FinishedAt time.Time `json:"finished_at"`
}

type monitorSnapshot struct {
	Type     string           `json:"type"`
	Total    int              `json:"total"`
	Passed   int              `json:"passed"`
	Attempts []monitorAttempt `json:"attempts"`
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:exam_id/monitor
// Streams finished attempts of an exam as they are reported.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// Subscribe before the snapshot so nothing reported in between is missed.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ExamMonitorChannel(examID.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	h.sendSnapshot(c, reqCtx, examID)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	h.log.Info().Str("exam_id", examID.String()).Msg("Admin attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Admin disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(c, []byte(msg.Payload))

		case <-keepAlive.C:
			writeSSE(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) sendSnapshot(c *gin.Context, ctx context.Context, examID uuid.UUID) {
	fetchCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	snap := monitorSnapshot{Type: "snapshot", Attempts: []monitorAttempt{}}
	attempts, err := h.attempts.ListByExam(fetchCtx, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Monitor snapshot failed")
	}
	snap.Total = len(attempts)
	for _, a := range attempts {
		if a.Verdict == engine.VerdictPass {
			snap.Passed++
		}
		if len(snap.Attempts) < snapshotLimit {
			snap.Attempts = append(snap.Attempts, monitorAttempt{
				SessionID:  a.SessionID,
				UserID:     a.UserID,
				UserName:   a.UserName,
				Verdict:    string(a.Verdict),
				Correct:    a.CorrectCount,
				Percentage: a.Percentage,
				FinishedAt: a.FinishedAt,
			})
		}
	}

	raw, _ := json.Marshal(snap)
	writeSSE(c, raw)
}

func writeSSE(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
