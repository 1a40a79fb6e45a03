package engine

// EventType names what happened in a session.
type EventType string

const (
	EventPhase   EventType = "phase"
	EventTick    EventType = "tick"
	EventWarning EventType = "warning"
	EventExpired EventType = "expired"
	EventResult  EventType = "result"
	EventReport  EventType = "report"
)

// Event is delivered to listeners after the session lock is released.
type Event struct {
	Type             EventType     `json:"type"`
	SessionID        string        `json:"session_id"`
	Phase            Phase         `json:"phase"`
	SecondsRemaining int           `json:"seconds_remaining"`
	Result           *ResultRecord `json:"result,omitempty"`
	Report           *ReportStatus `json:"report,omitempty"`
}

// Listener receives session events. Implementations must not block for long:
// timer ticks are delivered on the timer goroutine.
type Listener interface {
	OnEvent(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event)

func (f ListenerFunc) OnEvent(ev Event) { f(ev) }

func dispatch(ls []Listener, evs ...Event) {
	for _, ev := range evs {
		for _, l := range ls {
			l.OnEvent(ev)
		}
	}
}
