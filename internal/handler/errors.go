package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// errInvalidOption is returned when the selected key is not one of the question's options.
var errInvalidOption = errors.New("option is not offered by this question")

// errorMapping pairs a domain error with its HTTP status and API code.
type errorMapping struct {
	err    error
	status int
	code   response.ErrCode
}

// Order matters only where one error wraps another.
var errorTable = []errorMapping{
	{service.ErrSessionNotFound, http.StatusNotFound, response.ErrSessionNotFound},
	{service.ErrSessionForbidden, http.StatusForbidden, response.ErrForbidden},
	{service.ErrExamNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrExamNotAvailable, http.StatusBadRequest, response.ErrExamNotAvailable},
	{service.ErrNotRegistered, http.StatusForbidden, response.ErrNotRegistered},
	{service.ErrPaymentRequired, http.StatusPaymentRequired, response.ErrPaymentRequired},
	{engine.ErrAccessCodeMismatch, http.StatusBadRequest, response.ErrAccessCodeMismatch},
	{engine.ErrSessionFinished, http.StatusConflict, response.ErrSessionFinished},
	{engine.ErrSessionAbandoned, http.StatusConflict, response.ErrSessionAbandoned},
	{engine.ErrInvalidPhase, http.StatusConflict, response.ErrInvalidPhase},
	{engine.ErrQuestionIndex, http.StatusBadRequest, response.ErrQuestionIndex},
	{engine.ErrReportInFlight, http.StatusConflict, response.ErrReportInFlight},
	{engine.ErrReportFailed, http.StatusBadGateway, response.ErrReportFailed},
	{engine.ErrNotRetakeable, http.StatusConflict, response.ErrNotRetakeable},
	{errInvalidOption, http.StatusBadRequest, response.ErrInvalidOption},
}

// classify maps err to a status and code. Unknown errors are internal.
func classify(err error) (int, response.ErrCode) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// fail writes the response for err and records it for the request logger.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status, code := classify(err)
	response.Fail(c, status, code)
}
