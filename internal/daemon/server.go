package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/rescale/runwatch/internal/logging"
	"github.com/rescale/runwatch/internal/models"
	"github.com/rescale/runwatch/internal/scanner"
)

// StatusSource provides the data served by the status endpoint.
type StatusSource interface {
	GetStatus() *Status
	LastReport() *scanner.Report
	RecentLogs(n int) []LogEntry
}

const defaultLogLines = 100

// StatusServer serves daemon status and the latest report over HTTP.
//
//	GET /status        daemon status
//	GET /runs          latest report, all buckets
//	GET /runs/{state}  one bucket of the latest report
//	GET /logs?n=100    recent daemon log entries
type StatusServer struct {
	source StatusSource
	logger *logging.Logger
	router chi.Router

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewStatusServer creates a status server for source.
func NewStatusServer(source StatusSource, logger *logging.Logger) *StatusServer {
	s := &StatusServer{
		source: source,
		logger: logging.OrNop(logger),
	}

	r := chi.NewRouter()
	r.Get("/status", s.handleStatus)
	r.Get("/runs", s.handleRuns)
	r.Get("/runs/{state}", s.handleRunsByState)
	r.Get("/logs", s.handleLogs)
	s.router = r

	return s
}

// Handler returns the HTTP handler.
func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background.
func (s *StatusServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{Handler: s.router}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Status server listening")

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Status server stopped")
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *StatusServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.GetStatus())
}

func (s *StatusServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	report := s.source.LastReport()
	if report == nil {
		writeError(w, http.StatusServiceUnavailable, "no scan has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *StatusServer) handleRunsByState(w http.ResponseWriter, r *http.Request) {
	state, ok := models.ParseRunState(chi.URLParam(r, "state"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run state")
		return
	}
	report := s.source.LastReport()
	if report == nil {
		writeError(w, http.StatusServiceUnavailable, "no scan has completed yet")
		return
	}
	runs := report.Runs(state)
	if runs == nil {
		runs = []*models.RunDocument{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *StatusServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = parsed
	}
	entries := s.source.RecentLogs(n)
	if entries == nil {
		entries = []LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
