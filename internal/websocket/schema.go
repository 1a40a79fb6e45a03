package websocket

import "github.com/stemsi/exstem-attempt/internal/engine"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAuthenticate Action = "authenticate"
	ActionBegin        Action = "begin"
	ActionSelect       Action = "select"
	ActionReview       Action = "review"
	ActionNavigate     Action = "navigate"
	ActionNext         Action = "next"
	ActionPrevious     Action = "previous"
	ActionSubmit       Action = "submit"
	ActionExit         Action = "exit"
	ActionRetryReport  Action = "retry_report"
	ActionState        Action = "state"
	ActionPing         Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AuthenticateRequest carries the access code typed by the user.
type AuthenticateRequest struct {
	Action     Action `json:"action"`
	AccessCode string `json:"access_code" binding:"required,max=64"`
}

// SelectRequest records an answer for the question at Index.
type SelectRequest struct {
	Action Action `json:"action"`
	Index  int    `json:"index" binding:"min=0"`
	Option string `json:"option" binding:"required,optionkey"`
}

// IndexRequest is used by review and navigate.
type IndexRequest struct {
	Action Action `json:"action"`
	Index  int    `json:"index" binding:"min=0"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState   Event = "state"
	EventTick    Event = "tick"
	EventWarning Event = "warning"
	EventExpired Event = "expired"
	EventResult  Event = "result"
	EventReport  Event = "report"
	EventReview  Event = "review"
	EventError   Event = "error"
	EventPong    Event = "pong"
)

// StateResponse carries a full session snapshot. Sent on connect, on every
// phase change and whenever the client asks for it.
type StateResponse struct {
	Event Event       `json:"event"`
	State engine.View `json:"state"`
}

type TickResponse struct {
	Event            Event `json:"event"`
	SecondsRemaining int   `json:"seconds_remaining"`
}

type ResultResponse struct {
	Event  Event               `json:"event"`
	Result engine.ResultRecord `json:"result"`
}

type ReportResponse struct {
	Event  Event               `json:"event"`
	Report engine.ReportStatus `json:"report"`
}

type ReviewResponse struct {
	Event   Event `json:"event"`
	Index   int   `json:"index"`
	Flagged bool  `json:"flagged"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
