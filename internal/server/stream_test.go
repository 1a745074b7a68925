package server_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazz-dev/newsdesk/internal/fetchstate"
	"github.com/hazz-dev/newsdesk/internal/probe"
	"github.com/hazz-dev/newsdesk/internal/widget"
)

type event struct {
	Type         string        `json:"type"`
	Connectivity *probe.Status `json:"connectivity"`
	Widget       *widget.View  `json:"widget"`
	Widgets      []widget.View `json:"widgets"`
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing stream: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	return ev
}

func waitSubscribed(t *testing.T, conn *fakeConn) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for conn.subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStream_SnapshotOnConnect(t *testing.T) {
	s := newServer(healthyConn(), makeWidgets(), &mockStore{})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	ev := readEvent(t, dialStream(t, srv))
	if ev.Type != "snapshot" {
		t.Fatalf("expected snapshot first, got %q", ev.Type)
	}
	if ev.Connectivity == nil || !ev.Connectivity.IsConnected {
		t.Errorf("expected connected status in snapshot, got %+v", ev.Connectivity)
	}
	if len(ev.Widgets) != 2 {
		t.Errorf("expected 2 widgets in snapshot, got %d", len(ev.Widgets))
	}
}

func TestStream_PushesTransitions(t *testing.T) {
	conn := healthyConn()
	widgets := makeWidgets()
	s := newServer(conn, widgets, &mockStore{})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	ws := dialStream(t, srv)
	readEvent(t, ws) // snapshot
	waitSubscribed(t, conn)

	conn.set(probe.Status{Phase: probe.PhaseUnreachable, Message: "Database is unavailable"})
	ev := readEvent(t, ws)
	if ev.Type != "connectivity" || ev.Connectivity == nil || ev.Connectivity.Phase != probe.PhaseUnreachable {
		t.Fatalf("expected unreachable connectivity event, got %+v", ev)
	}

	widgets.publish(widget.View{Name: "latest", Phase: fetchstate.PhaseError, ErrorMessage: "Database is unavailable"})
	ev = readEvent(t, ws)
	if ev.Type != "widget" || ev.Widget == nil || ev.Widget.Name != "latest" || ev.Widget.Phase != fetchstate.PhaseError {
		t.Fatalf("expected widget error event, got %+v", ev)
	}
}

func TestStream_RejectsForeignOrigin(t *testing.T) {
	s := newServer(healthyConn(), makeWidgets(), &mockStore{})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	header := http.Header{"Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected handshake failure for foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %+v", resp)
	}
}
