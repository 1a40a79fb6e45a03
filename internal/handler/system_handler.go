package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/response"
)

const healthTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter reports how many sessions this instance holds.
type SessionCounter interface {
	Count() int
}

// SystemHandler reports liveness and dependency health.
type SystemHandler struct {
	db        Pinger
	rdb       *redis.Client
	sessions  SessionCounter
	startTime time.Time
}

func NewSystemHandler(db Pinger, rdb *redis.Client, sessions SessionCounter) *SystemHandler {
	return &SystemHandler{db: db, rdb: rdb, sessions: sessions, startTime: time.Now()}
}

type healthStatus struct {
	Status     string            `json:"status"`
	Uptime     string            `json:"uptime"`
	Sessions   int               `json:"sessions"`
	Goroutines int               `json:"goroutines"`
	Queue      int64             `json:"persist_queue_length"`
	Checks     map[string]string `json:"checks"`
}

// Health godoc
// GET /health
// Returns 503 when PostgreSQL or Redis is unreachable.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	st := healthStatus{
		Status:     "ok",
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Sessions:   h.sessions.Count(),
		Goroutines: runtime.NumGoroutine(),
		Checks:     map[string]string{"postgres": "ok", "redis": "ok"},
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			st.Status, st.Checks["postgres"] = "degraded", err.Error()
		}
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		st.Status, st.Checks["redis"] = "degraded", err.Error()
	} else {
		st.Queue, _ = h.rdb.LLen(ctx, config.WorkerKey.PersistAttemptsQueue).Result()
	}

	status := http.StatusOK
	if st.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, st)
}
