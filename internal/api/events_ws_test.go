package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/palisade/internal/events"
	"grimm.is/palisade/internal/policy"
)

func dialEvents(t *testing.T, ts *testServer) (*websocket.Conn, func()) {
	t.Helper()
	httpSrv := httptest.NewServer(ts.Server)
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		httpSrv.Close()
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn, func() {
		conn.Close()
		httpSrv.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("event is not valid JSON: %v\n%s", err, msg)
	}
	return e
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t)
	conn, done := dialEvents(t, ts)
	defer done()

	_, _, err := ts.eng.CreateRule("test", policy.Rule{
		Table: "filter", Chain: "INPUT", Action: "ACCEPT",
		Protocol: "tcp", Port: "22", Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	// A create publishes the rule change first and the reconciliation
	// outcome second.
	first := readEvent(t, conn)
	if first.Type != events.EventRuleCreated {
		t.Errorf("first event = %q, want %q", first.Type, events.EventRuleCreated)
	}
	second := readEvent(t, conn)
	if second.Type != events.EventApplyCompleted {
		t.Errorf("second event = %q, want %q", second.Type, events.EventApplyCompleted)
	}
}

func TestEventStreamSubscribeFilters(t *testing.T) {
	ts := newTestServer(t)
	conn, done := dialEvents(t, ts)
	defer done()

	sub := `{"action":"subscribe","topics":["rules.saved"]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// The subscription is handled on the connection's read loop.
	time.Sleep(100 * time.Millisecond)

	// Neither of these match the subscription.
	if _, _, err := ts.eng.CreateRule("test", policy.Rule{
		Table: "filter", Chain: "INPUT", Action: "DROP", Enabled: true,
	}); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	if err := ts.eng.Save("test"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	e := readEvent(t, conn)
	if e.Type != events.EventRulesSaved {
		t.Errorf("filtered stream delivered %q, want %q", e.Type, events.EventRulesSaved)
	}
}

func TestEventStreamRejectsCrossOrigin(t *testing.T) {
	ts := newTestServer(t)
	httpSrv := httptest.NewServer(ts.Server)
	defer httpSrv.Close()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/events"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatal("cross-origin dial succeeded, want handshake rejection")
	}
}
