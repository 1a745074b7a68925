// Package server exposes connectivity and widget state over HTTP and a
// WebSocket stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazz-dev/newsdesk/internal/probe"
	"github.com/hazz-dev/newsdesk/internal/storage"
	"github.com/hazz-dev/newsdesk/internal/widget"
)

// Connectivity is the live connectivity source. *probe.Prober implements it.
type Connectivity interface {
	Status() probe.Status
	Subscribe(fn func(cur, prev probe.Status)) (unsubscribe func())
}

// Widgets is the widget registry. *widget.Registry implements it.
type Widgets interface {
	List() []widget.View
	Get(name string) (widget.View, error)
	Refetch(ctx context.Context, name string) (widget.View, error)
	SetParams(name string, params map[string]string) (widget.View, error)
	Subscribe(fn func(widget.View)) (unsubscribe func())
}

// ServerStore defines the storage queries the server needs.
type ServerStore interface {
	ProbeHistory(ctx context.Context, limit, offset int) ([]storage.Probe, int, error)
	Availability(ctx context.Context, last int) (float64, error)
}

// Server holds the chi router and its dependencies.
type Server struct {
	conn    Connectivity
	widgets Widgets
	store   ServerStore
	router  chi.Router
	logger  *slog.Logger
}

// New creates a new Server and registers all routes.
func New(conn Connectivity, widgets Widgets, store ServerStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		conn:    conn,
		widgets: widgets,
		store:   store,
		router:  chi.NewRouter(),
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/connectivity", s.handleConnectivity)
	r.Get("/api/connectivity/history", s.handleConnectivityHistory)
	r.Get("/api/widgets", s.handleListWidgets)
	r.Get("/api/widgets/{name}", s.handleGetWidget)
	r.Post("/api/widgets/{name}/refetch", s.handleRefetchWidget)
	r.Put("/api/widgets/{name}/params", s.handleSetParams)
	r.Get("/api/stream", s.handleStream)
}

// --- Response helpers ---

type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// availabilityWindow is how many recent probes the availability figure covers.
const availabilityWindow = 100

type connectivityDetail struct {
	probe.Status
	AvailabilityPct float64 `json:"availability_percent"`
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	pct, err := s.store.Availability(r.Context(), availabilityWindow)
	if err != nil {
		s.logger.Warn("Availability", "error", err)
	}
	writeJSON(w, http.StatusOK, connectivityDetail{
		Status:          s.conn.Status(),
		AvailabilityPct: pct,
	})
}

type historyResponse struct {
	Probes []storage.Probe `json:"probes"`
	Total  int             `json:"total"`
}

func (s *Server) handleConnectivityHistory(w http.ResponseWriter, r *http.Request) {
	const maxLimit = 1000

	limit := 50
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = min(n, maxLimit)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset parameter")
			return
		}
		offset = n
	}

	probes, total, err := s.store.ProbeHistory(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("ProbeHistory", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if probes == nil {
		probes = []storage.Probe{}
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Probes: probes,
		Total:  total,
	})
}

func (s *Server) handleListWidgets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.widgets.List())
}

func (s *Server) handleGetWidget(w http.ResponseWriter, r *http.Request) {
	v, err := s.widgets.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.writeWidgetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleRefetchWidget(w http.ResponseWriter, r *http.Request) {
	v, err := s.widgets.Refetch(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeWidgetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// maxParamsBody caps PUT /params request bodies.
const maxParamsBody = 64 << 10

func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	var params map[string]string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxParamsBody)).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid params body")
		return
	}
	v, err := s.widgets.SetParams(chi.URLParam(r, "name"), params)
	if err != nil {
		s.writeWidgetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) writeWidgetError(w http.ResponseWriter, err error) {
	if errors.Is(err, widget.ErrNotFound) {
		writeError(w, http.StatusNotFound, "widget not found")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

// --- Middleware ---

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// the wrapper keeps http.Hijacker available for the stream upgrade
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
		)
	})
}
