// Package api serves palisade's HTTP surface: rule CRUD, extension
// chain management, reconciliation triggers, the audit log, and the
// event stream. Authentication is deliberately absent; deployments
// front the daemon with their own gateway.
package api

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"grimm.is/palisade/internal/audit"
	"grimm.is/palisade/internal/engine"
	"grimm.is/palisade/internal/events"
	"grimm.is/palisade/internal/logging"
	"grimm.is/palisade/internal/metrics"
)

// ServerConfig holds HTTP server timeouts.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
}

// DefaultServerConfig returns the stock timeouts.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
}

// Server handles API requests.
type Server struct {
	engine  *engine.Engine
	audit   *audit.Recorder
	log     *logging.Logger
	ws      *WSBridge
	recent  *events.RecentBuffer
	handler http.Handler
	httpSrv *http.Server
	started time.Time
}

// Options holds dependencies for the API server. Engine is required.
type Options struct {
	Engine *engine.Engine
	Audit  *audit.Recorder
	Logger *logging.Logger
	Server *ServerConfig
}

// NewServer creates an API server and registers all routes.
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.Default().WithComponent("api")
	}

	s := &Server{
		engine:  opts.Engine,
		audit:   opts.Audit,
		log:     log,
		started: time.Now(),
	}
	s.ws = NewWSBridge(opts.Engine.Events(), log)
	s.recent = events.NewRecentBuffer(opts.Engine.Events(), 0)
	s.recent.Start()

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	s.handler = s.instrument(mux)

	cfg := opts.Server
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	return s
}

// RegisterRoutes registers every API route on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Rules
	mux.HandleFunc("GET /api/rules", s.handleListRules)
	mux.HandleFunc("POST /api/rules", s.handleCreateRule)
	mux.HandleFunc("GET /api/rules/export", s.handleExportRules)
	mux.HandleFunc("POST /api/rules/import", s.handleImportRules)
	mux.HandleFunc("PUT /api/rules/order", s.handleSetRuleOrders)
	mux.HandleFunc("GET /api/rules/{id}", s.handleGetRule)
	mux.HandleFunc("PATCH /api/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /api/rules/{id}", s.handleDeleteRule)
	mux.HandleFunc("PATCH /api/rules/{id}/reorder", s.handleReorderRule)

	// Extension chains
	mux.HandleFunc("GET /api/chains", s.handleListChains)
	mux.HandleFunc("PUT /api/chains/order", s.handleSetChainPriorities)

	// Firewall state
	mux.HandleFunc("POST /api/firewall/apply", s.handleApply)
	mux.HandleFunc("POST /api/firewall/save", s.handleSave)
	mux.HandleFunc("GET /api/firewall/drift", s.handleDrift)
	mux.HandleFunc("GET /api/firewall/status", s.handleStatus)

	// Observability
	mux.HandleFunc("GET /api/audit", s.handleAudit)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/events/recent", s.handleRecentEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
}

// ServeHTTP lets tests drive the server without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start serves on addr until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	s.log.Info("api listening", "addr", addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener and disconnects event stream clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.recent.Stop()
	s.ws.Close()
	return s.httpSrv.Shutdown(ctx)
}

// statusWriter captures the response code for logging and metrics. It
// passes Hijack through so the websocket upgrade keeps working.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// instrument wraps the mux with request logging and metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		took := time.Since(start)

		path := metricsPath(r.URL.Path)
		metrics.Get().RecordAPIRequest(r.Method, path, sw.status, took.Seconds())
		s.log.Debug("request",
			"method", r.Method, "path", r.URL.Path, "status", sw.status,
			"remote", r.RemoteAddr, "took", took)
	})
}

// metricsPath collapses per-rule ids so the path label stays bounded.
func metricsPath(p string) string {
	if rest, ok := strings.CutPrefix(p, "/api/rules/"); ok {
		switch rest {
		case "order", "export", "import":
			return p
		}
		if strings.HasSuffix(rest, "/reorder") {
			return "/api/rules/{id}/reorder"
		}
		return "/api/rules/{id}"
	}
	return p
}

// handleAudit handles GET /api/audit.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		WriteError(w, http.StatusNotFound, "audit log not enabled")
		return
	}

	filter := audit.Filter{Limit: 100}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	filter.Actor = r.URL.Query().Get("actor")
	filter.Action = r.URL.Query().Get("action")

	entries, err := s.audit.Query(filter)
	if err != nil {
		s.log.Error("audit query failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to query audit log")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleRecentEvents handles GET /api/events/recent: the last events the
// engine published, newest first. A polling fallback for clients that
// cannot hold a websocket open.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	evs := s.recent.Recent(limit)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": evs,
		"count":  len(evs),
	})
}

// handleHealth handles GET /healthz: store reachability plus the last
// apply outcome.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Status    string            `json:"status"`
		UptimeSec int64             `json:"uptime_seconds"`
		Store     string            `json:"store"`
		LastApply *engine.LastApply `json:"last_apply,omitempty"`
	}

	h := health{Status: "ok", UptimeSec: int64(time.Since(s.started).Seconds()), Store: "ok"}
	if err := s.engine.Store().Ping(); err != nil {
		h.Status = "degraded"
		h.Store = err.Error()
	}
	h.LastApply = s.engine.LastApply()
	if h.LastApply != nil && !h.LastApply.Result.OK {
		h.Status = "degraded"
	}

	code := http.StatusOK
	if h.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, h)
}
