package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dRing/lib/cluster"
	"github.com/ValentinKolb/dRing/lib/executor"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/lib/ringmap"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"net/http"
	"time"
)

var Logger = logger.GetLogger("admin")

// ErrDiscoveryDisabled is returned by backends that run without multicast discovery
var ErrDiscoveryDisabled = errors.New("multicast discovery is disabled")

// Status is the state of a node as reported by GET /status
type Status struct {
	Self      member.Member  `json:"self"`
	Cluster   cluster.State  `json:"cluster"`
	IsMaster  bool           `json:"is_master"`
	Layout    cluster.Layout `json:"layout"`
	Store     ringmap.Stats  `json:"store"`
	Workers   executor.Stats `json:"workers"`
	Discovery bool           `json:"discovery"`
	Merge     string         `json:"merge_phase"`
}

// Backend is the node the admin api controls
type Backend interface {
	Status() Status
	// TriggerRebalance starts a rebalance on every member
	TriggerRebalance(ctx context.Context) error
	JoinDiscovery() error
	LeaveDiscovery() error
}

// Server serves the http admin api of a node
type Server struct {
	backend  Backend
	endpoint string
	debug    bool
	srv      *http.Server
	listener net.Listener
}

// NewServer creates an admin server for backend. With debug set every
// request is logged.
func NewServer(endpoint string, backend Backend, debug bool) *Server {
	s := &Server{backend: backend, endpoint: endpoint, debug: debug}
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler returns the routes of the admin api
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "GET /metrics", s.handleMetrics)
	s.handle(mux, "GET /status", s.handleStatus)
	s.handle(mux, "POST /rebalance", s.handleRebalance)
	s.handle(mux, "POST /discovery/{action}", s.handleDiscovery)
	return mux
}

// Start binds the endpoint and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.endpoint, err)
	}
	s.listener = listener
	Logger.Infof("starting admin api on %s", listener.Addr())

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("admin api stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Close(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	if s.debug {
		h = loggerMiddleware(h)
	}
	mux.HandleFunc(pattern, h)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	metrics.WritePrometheus(w, true)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Status())
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.TriggerRebalance(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("rebalance failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := r.PathValue("action"); action {
	case "join":
		err = s.backend.JoinDiscovery()
	case "leave":
		err = s.backend.LeaveDiscovery()
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", action), http.StatusBadRequest)
		return
	}

	switch {
	case errors.Is(err, ErrDiscoveryDisabled):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"discovery": s.backend.Status().Discovery})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger.Warningf("failed to write response: %v", err)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware logs method, path, status and duration of every request
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
