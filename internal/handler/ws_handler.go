package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live session to the browser and accepts its actions.
type WSHandler struct {
	attempts *service.AttemptService
	limiter  *middleware.RateLimiter
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. limiter guards access code attempts
// and may be nil.
func NewWSHandler(attempts *service.AttemptService, limiter *middleware.RateLimiter, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		limiter:  limiter,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream
// Pushes state, ticks, warnings and results; accepts session actions.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	if _, err := uuid.Parse(c.Param("session_id")); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Resolve before upgrading so failures are plain HTTP errors.
	sess, err := h.attempts.Get(c.Param("session_id"), claims.UserID)
	if err != nil {
		fail(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	wsLog := h.log.With().
		Str("session_id", sess.ID()).
		Str("user_id", claims.UserID).
		Logger()

	stream := ws.NewStream(conn, wsLog)
	pumpDone := make(chan struct{})
	go func() {
		stream.Run()
		conn.Close()
		close(pumpDone)
	}()

	unsubscribe := sess.Subscribe(ws.Relay(stream, sess.Snapshot))
	defer func() {
		unsubscribe()
		stream.Close()
		<-pumpDone
	}()

	wsLog.Info().Msg("Session stream connected")
	stream.Send(ws.StateResponse{Event: ws.EventState, State: sess.Snapshot()})

	for {
		raw, err := ws.ReadRaw(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			stream.Send(ws.NewError(string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload)))
			continue
		}

		if reply := h.dispatch(c.Request.Context(), sess, env.Action, raw); reply != nil {
			stream.Send(reply)
		}
	}
}

// dispatch runs one client action. Listener events cover phase changes,
// results and reports; the returned value is the direct reply, if any.
func (h *WSHandler) dispatch(ctx context.Context, sess *engine.Session, action ws.Action, raw []byte) interface{} {
	switch action {
	case ws.ActionAuthenticate:
		var req ws.AuthenticateRequest
		if reply := decode(raw, &req); reply != nil {
			return reply
		}
		if h.limiter != nil {
			allowed, _, err := h.limiter.Allow(ctx, config.CacheKey.SessionAuthAttemptsKey(sess.ID()))
			if err != nil {
				h.log.Warn().Err(err).Msg("Rate limit check failed")
			} else if !allowed {
				return errorReply(response.ErrRateLimitExceeded)
			}
		}
		return errReply(sess.Authenticate(req.AccessCode))

	case ws.ActionBegin:
		return errReply(sess.Begin())

	case ws.ActionSelect:
		var req ws.SelectRequest
		if reply := decode(raw, &req); reply != nil {
			return reply
		}
		if err := selectAnswer(sess, req.Index, req.Option); err != nil {
			return errReply(err)
		}
		return stateReply(sess)

	case ws.ActionReview:
		var req ws.IndexRequest
		if reply := decode(raw, &req); reply != nil {
			return reply
		}
		flagged, err := sess.ToggleReview(req.Index)
		if err != nil {
			return errReply(err)
		}
		return ws.ReviewResponse{Event: ws.EventReview, Index: req.Index, Flagged: flagged}

	case ws.ActionNavigate:
		var req ws.IndexRequest
		if reply := decode(raw, &req); reply != nil {
			return reply
		}
		if err := sess.Navigate(req.Index); err != nil {
			return errReply(err)
		}
		return stateReply(sess)

	case ws.ActionNext:
		if err := sess.Next(); err != nil {
			return errReply(err)
		}
		return stateReply(sess)

	case ws.ActionPrevious:
		if err := sess.Previous(); err != nil {
			return errReply(err)
		}
		return stateReply(sess)

	case ws.ActionSubmit:
		_, err := sess.Submit(context.WithoutCancel(ctx))
		if err != nil && !isReportFailure(err) {
			return errReply(err)
		}
		return nil

	case ws.ActionExit:
		return errReply(sess.Exit())

	case ws.ActionRetryReport:
		_, err := sess.RetryReport(context.WithoutCancel(ctx))
		if err != nil && !isReportFailure(err) {
			return errReply(err)
		}
		return nil

	case ws.ActionState:
		return stateReply(sess)

	case ws.ActionPing:
		return ws.PongResponse{Event: ws.EventPong}

	default:
		return ws.NewError(string(response.ErrInvalidPayload), "unknown action: "+string(action))
	}
}

// decode parses and validates a typed request, returning an error reply on failure.
func decode(raw []byte, dst interface{}) interface{} {
	if err := json.Unmarshal(raw, dst); err != nil {
		return errorReply(response.ErrInvalidPayload)
	}
	fields := validator.Struct(dst)
	if fields == nil {
		return nil
	}
	msgs := make([]string, 0, len(fields))
	for _, msg := range fields {
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return ws.NewError(string(response.ErrValidation), strings.Join(msgs, "; "))
}

func stateReply(sess *engine.Session) interface{} {
	return ws.StateResponse{Event: ws.EventState, State: sess.Snapshot()}
}

// errReply returns nil for a nil error so successful actions stay silent.
func errReply(err error) interface{} {
	if err == nil {
		return nil
	}
	_, code := classify(err)
	return errorReply(code)
}

func errorReply(code response.ErrCode) interface{} {
	return ws.NewError(string(code), response.GetMessage(code))
}

// isReportFailure is true when the result stands but delivery failed; the
// report event already tells the client to retry.
func isReportFailure(err error) bool {
	_, code := classify(err)
	return code == response.ErrReportFailed
}
