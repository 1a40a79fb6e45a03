package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/engine"
)

// serveStream upgrades one connection and hands its Stream to use.
func serveStream(t *testing.T, use func(*Stream)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s := NewStream(conn, zerolog.Nop())
		go use(s)
		s.Run()
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestRelayForwardsSessionEvents(t *testing.T) {
	view := engine.View{SessionID: "s-1", Phase: engine.PhaseInProgress, SecondsRemaining: 30}
	conn := serveStream(t, func(s *Stream) {
		l := Relay(s, func() engine.View { return view })
		l.OnEvent(engine.Event{Type: engine.EventPhase, Phase: engine.PhaseInProgress})
		l.OnEvent(engine.Event{Type: engine.EventTick, SecondsRemaining: 29})
		l.OnEvent(engine.Event{Type: engine.EventWarning, SecondsRemaining: 6})
		l.OnEvent(engine.Event{Type: engine.EventResult, Result: &engine.ResultRecord{CorrectCount: 2, Verdict: engine.VerdictPass}})
		l.OnEvent(engine.Event{Type: engine.EventReport, Report: &engine.ReportStatus{State: engine.DeliveryDelivered, Attempts: 1}})
	})

	state := readEvent(t, conn)
	if state["event"] != string(EventState) {
		t.Fatalf("first event = %v", state)
	}
	if st := state["state"].(map[string]interface{}); st["session_id"] != "s-1" || st["phase"] != string(engine.PhaseInProgress) {
		t.Fatalf("state = %v", st)
	}

	if tick := readEvent(t, conn); tick["event"] != string(EventTick) || tick["seconds_remaining"] != float64(29) {
		t.Fatalf("tick = %v", tick)
	}
	if warn := readEvent(t, conn); warn["event"] != string(EventWarning) {
		t.Fatalf("warning = %v", warn)
	}
	res := readEvent(t, conn)
	if res["event"] != string(EventResult) || res["result"].(map[string]interface{})["verdict"] != "PASS" {
		t.Fatalf("result = %v", res)
	}
	rep := readEvent(t, conn)
	if rep["event"] != string(EventReport) || rep["report"].(map[string]interface{})["state"] != string(engine.DeliveryDelivered) {
		t.Fatalf("report = %v", rep)
	}
}

func TestStreamCloseStopsSends(t *testing.T) {
	closed := make(chan bool, 1)
	conn := serveStream(t, func(s *Stream) {
		s.Send(PongResponse{Event: EventPong})
		time.Sleep(50 * time.Millisecond)
		s.Close()
		s.Close()
		closed <- s.Send(PongResponse{Event: EventPong})
	})

	if pong := readEvent(t, conn); pong["event"] != string(EventPong) {
		t.Fatalf("pong = %v", pong)
	}
	if sent := <-closed; sent {
		t.Fatal("Send after Close reported success")
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}
