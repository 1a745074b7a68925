package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazz-dev/newsdesk/internal/probe"
	"github.com/hazz-dev/newsdesk/internal/widget"
)

const (
	streamPushInterval = 30 * time.Second
	streamWriteTimeout = 5 * time.Second
	streamBuffer       = 64
)

const (
	eventSnapshot     = "snapshot"
	eventConnectivity = "connectivity"
	eventWidget       = "widget"
)

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// streamEvent is one message on /api/stream. Snapshots carry both
// connectivity and every widget; other events carry only what changed.
type streamEvent struct {
	Type         string        `json:"type"`
	Connectivity *probe.Status `json:"connectivity,omitempty"`
	Widget       *widget.View  `json:"widget,omitempty"`
	Widgets      []widget.View `json:"widgets,omitempty"`
}

func (s *Server) snapshot() streamEvent {
	st := s.conn.Status()
	return streamEvent{
		Type:         eventSnapshot,
		Connectivity: &st,
		Widgets:      s.widgets.List(),
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("stream upgrade", "error", err)
		return
	}
	s.serveStream(conn)
}

func (s *Server) serveStream(conn *websocket.Conn) {
	defer conn.Close()

	// Subscribers run on the prober and fetch goroutines; never block them.
	events := make(chan streamEvent, streamBuffer)
	push := func(ev streamEvent) {
		select {
		case events <- ev:
		default:
			s.logger.Warn("stream client too slow, dropping event", "type", ev.Type)
		}
	}
	unsubConn := s.conn.Subscribe(func(cur, _ probe.Status) {
		push(streamEvent{Type: eventConnectivity, Connectivity: &cur})
	})
	defer unsubConn()
	unsubWidgets := s.widgets.Subscribe(func(v widget.View) {
		push(streamEvent{Type: eventWidget, Widget: &v})
	})
	defer unsubWidgets()

	if err := writeStreamEvent(conn, s.snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(streamPushInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			if err := writeStreamEvent(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := writeStreamEvent(conn, s.snapshot()); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeStreamEvent(conn *websocket.Conn, ev streamEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(ev)
}
