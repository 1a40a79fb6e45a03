package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/engine"
)

const (
	sendBuffer = 64
	pingPeriod = 50 * time.Second
)

// Stream serializes writes to one connection. Session events arrive from
// timer goroutines and request replies from the read loop; only the write
// pump touches the conn.
type Stream struct {
	conn *websocket.Conn
	send chan interface{}
	done chan struct{}
	once sync.Once
	log  zerolog.Logger
}

func NewStream(conn *websocket.Conn, log zerolog.Logger) *Stream {
	return &Stream{
		conn: conn,
		send: make(chan interface{}, sendBuffer),
		done: make(chan struct{}),
		log:  log,
	}
}

// Run is the write pump. It returns when the stream is closed or a write fails.
func (s *Stream) Run() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-s.done:
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-s.send:
			if err := WriteTyped(s.conn, msg); err != nil {
				s.log.Debug().Err(err).Msg("Write failed")
				s.Close()
				return
			}
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.Close()
				return
			}
		}
	}
}

// Send queues v without blocking. A client that falls a full buffer behind
// is disconnected and false is returned.
func (s *Stream) Send(v interface{}) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- v:
		return true
	default:
		s.log.Warn().Msg("Client too slow, closing stream")
		s.Close()
		return false
	}
}

// Close stops the write pump. Safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() { close(s.done) })
}

// Done is closed once the stream is closed.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Relay turns session events into stream messages. snapshot is called for
// phase changes so the client always gets the full state after a transition.
func Relay(s *Stream, snapshot func() engine.View) engine.Listener {
	return engine.ListenerFunc(func(ev engine.Event) {
		switch ev.Type {
		case engine.EventPhase:
			s.Send(StateResponse{Event: EventState, State: snapshot()})
		case engine.EventTick:
			s.Send(TickResponse{Event: EventTick, SecondsRemaining: ev.SecondsRemaining})
		case engine.EventWarning:
			s.Send(TickResponse{Event: EventWarning, SecondsRemaining: ev.SecondsRemaining})
		case engine.EventExpired:
			s.Send(TickResponse{Event: EventExpired, SecondsRemaining: 0})
		case engine.EventResult:
			if ev.Result != nil {
				s.Send(ResultResponse{Event: EventResult, Result: *ev.Result})
			}
		case engine.EventReport:
			if ev.Report != nil {
				s.Send(ReportResponse{Event: EventReport, Report: *ev.Report})
			}
		}
	})
}
