package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

// SessionHandler exposes the exam-taking session over REST.
type SessionHandler struct {
	attempts *service.AttemptService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(attempts *service.AttemptService) *SessionHandler {
	return &SessionHandler{attempts: attempts}
}

// session resolves :session_id for the caller, writing the failure response itself.
func (h *SessionHandler) session(c *gin.Context) (*engine.Session, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}
	if _, err := uuid.Parse(c.Param("session_id")); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, false
	}
	sess, err := h.attempts.Get(c.Param("session_id"), claims.UserID)
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return sess, true
}

// Start godoc
// POST /api/v1/student/exams/:exam_id/sessions
// Opens a session, or returns the caller's live one for this exam.
func (h *SessionHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sess, created, err := h.attempts.Start(c.Request.Context(), examID.String(), claims.Identity())
	if err != nil {
		fail(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, sess.Snapshot())
}

// Get godoc
// GET /api/v1/student/sessions/:session_id
func (h *SessionHandler) Get(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, sess.Snapshot())
}

// Question godoc
// GET /api/v1/student/sessions/:session_id/questions/:index
func (h *SessionHandler) Question(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrQuestionIndex)
		return
	}
	if sess.Phase() != engine.PhaseInProgress {
		fail(c, phaseErr(sess))
		return
	}
	prompt, err := sess.Prompt(index)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, prompt)
}

// Authenticate godoc
// POST /api/v1/student/sessions/:session_id/authenticate
func (h *SessionHandler) Authenticate(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req model.AuthenticateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := sess.Authenticate(req.AccessCode); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess.Snapshot())
}

// Begin godoc
// POST /api/v1/student/sessions/:session_id/begin
// Acknowledges the instructions and starts the countdown.
func (h *SessionHandler) Begin(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := sess.Begin(); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess.Snapshot())
}

// Answer godoc
// PUT /api/v1/student/sessions/:session_id/answers
func (h *SessionHandler) Answer(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := selectAnswer(sess, *req.Index, req.Option); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess.Snapshot())
}

// Review godoc
// POST /api/v1/student/sessions/:session_id/review
// Toggles the review flag of one question.
func (h *SessionHandler) Review(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req model.IndexRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	flagged, err := sess.ToggleReview(*req.Index)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, model.ReviewResponse{Index: *req.Index, Flagged: flagged})
}

// Navigate godoc
// POST /api/v1/student/sessions/:session_id/navigate
func (h *SessionHandler) Navigate(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req model.IndexRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := sess.Navigate(*req.Index); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess.Snapshot())
}

// Next godoc
// POST /api/v1/student/sessions/:session_id/next
func (h *SessionHandler) Next(c *gin.Context) {
	h.move(c, (*engine.Session).Next)
}

// Previous godoc
// POST /api/v1/student/sessions/:session_id/previous
func (h *SessionHandler) Previous(c *gin.Context) {
	h.move(c, (*engine.Session).Previous)
}

func (h *SessionHandler) move(c *gin.Context, step func(*engine.Session) error) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := step(sess); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess.Snapshot())
}

// Submit godoc
// POST /api/v1/student/sessions/:session_id/submit
// Finishes and scores the session. A failed report still returns the result
// with a retryable report status.
func (h *SessionHandler) Submit(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	// The report must not be cut short by the client hanging up.
	res, err := sess.Submit(context.WithoutCancel(c.Request.Context()))
	switch {
	case err == nil, errors.Is(err, engine.ErrReportFailed):
		if err != nil {
			_ = c.Error(err)
		}
		response.Success(c, http.StatusOK, model.SubmitResponse{Result: res, Report: sess.ReportStatus()})
	case errors.Is(err, engine.ErrSessionFinished):
		_ = c.Error(err)
		status, code := classify(err)
		response.FailWithData(c, status, code, model.SubmitResponse{Result: res, Report: sess.ReportStatus()})
	default:
		fail(c, err)
	}
}

// RetryReport godoc
// POST /api/v1/student/sessions/:session_id/report/retry
func (h *SessionHandler) RetryReport(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	st, err := sess.RetryReport(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		_ = c.Error(err)
		status, code := classify(err)
		response.FailWithData(c, status, code, st)
		return
	}
	response.Success(c, http.StatusOK, st)
}

// Exit godoc
// POST /api/v1/student/sessions/:session_id/exit
// Abandons the session without scoring.
func (h *SessionHandler) Exit(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := sess.Exit(); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess.Snapshot())
}

// Retake godoc
// POST /api/v1/student/sessions/:session_id/retake
// Replaces a finished or abandoned session with a fresh one.
func (h *SessionHandler) Retake(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	next, created, err := h.attempts.Retake(c.Request.Context(), c.Param("session_id"), claims.Identity())
	if err != nil {
		fail(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, next.Snapshot())
}

// Discard godoc
// DELETE /api/v1/student/sessions/:session_id
func (h *SessionHandler) Discard(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	if err := h.attempts.Discard(c.Param("session_id"), claims.UserID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// selectAnswer rejects keys the question does not offer before recording them.
func selectAnswer(sess *engine.Session, index int, option string) error {
	if sess.Phase() != engine.PhaseInProgress {
		return phaseErr(sess)
	}
	prompt, err := sess.Prompt(index)
	if err != nil {
		return err
	}
	for _, o := range prompt.Options {
		if o.Key == option {
			return sess.Select(index, option)
		}
	}
	return errInvalidOption
}

// phaseErr describes why a session is not accepting question requests.
func phaseErr(sess *engine.Session) error {
	switch sess.Phase() {
	case engine.PhaseFinished:
		return engine.ErrSessionFinished
	case engine.PhaseAbandoned:
		return engine.ErrSessionAbandoned
	default:
		return engine.ErrInvalidPhase
	}
}
