// Package api serves the read-only JSON status surface and the debug chart
// of the most recent classification window.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/gesture.control/internal/db"
	"github.com/banshee-data/gesture.control/internal/decision"
	"github.com/banshee-data/gesture.control/internal/dispatch"
	"github.com/banshee-data/gesture.control/internal/httputil"
	"github.com/banshee-data/gesture.control/internal/monitoring"
	"github.com/banshee-data/gesture.control/internal/pipeline"
	"github.com/banshee-data/gesture.control/internal/serialmux"
	"github.com/banshee-data/gesture.control/internal/version"
)

var logs = monitoring.NewStreams("[api] ")

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultDecisionLimit = 50
	maxDecisionLimit     = 1000
)

// PipelineView is the part of the pipeline the API reads.
type PipelineView interface {
	Config() pipeline.Config
	Stats() pipeline.Stats
	LastSnapshot() (pipeline.Snapshot, bool)
	Debouncer() *decision.Debouncer
}

// DispatcherView is the part of the dispatcher the API reads.
type DispatcherView interface {
	Table() dispatch.Table
	Stats() dispatch.Stats
}

// DecisionStore is the persisted history. It may be nil when the service
// runs without a database.
type DecisionStore interface {
	RecentDecisions(ctx context.Context, limit int) ([]db.DecisionRow, error)
	RecentRuns(ctx context.Context, limit int) ([]db.Run, error)
}

type Server struct {
	p      PipelineView
	d      DispatcherView
	m      serialmux.SerialMuxInterface
	store  DecisionStore
	labels []string
	runID  string
	start  time.Time
}

// NewServer wires the API to the running components. labels are the class
// names the classifier was loaded with.
func NewServer(p PipelineView, d DispatcherView, m serialmux.SerialMuxInterface, store DecisionStore, labels []string) *Server {
	return &Server{
		p:      p,
		d:      d,
		m:      m,
		store:  store,
		labels: labels,
		start:  time.Now(),
	}
}

// SetRunID records the id of the current persisted run for /api/status.
func (s *Server) SetRunID(id string) { s.runID = id }

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logs.Diagf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/decisions", s.listDecisions)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/commands", s.showCommands)
	mux.HandleFunc("/api/window", s.showWindow)
	return mux
}

// Status is the body of /api/status.
type Status struct {
	Version   string          `json:"version"`
	GitSHA    string          `json:"git_sha"`
	RunID     string          `json:"run_id,omitempty"`
	UptimeS   float64         `json:"uptime_s"`
	Labels    []string        `json:"labels"`
	Config    statusConfig    `json:"config"`
	Pipeline  pipeline.Stats  `json:"pipeline"`
	Debouncer decision.State  `json:"debouncer"`
	Dispatch  dispatch.Stats  `json:"dispatch"`
	Serial    serialmux.Stats `json:"serial"`
}

type statusConfig struct {
	WindowSize          int     `json:"window_size"`
	Overlap             float64 `json:"overlap_fraction"`
	FeatureSet          string  `json:"feature_set"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	CooldownS           float64 `json:"cooldown_s"`
	QueueSize           int     `json:"queue_size"`
	QueuePolicy         string  `json:"queue_policy"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	cfg := s.p.Config()
	status := Status{
		Version: version.Version,
		GitSHA:  version.GitSHA,
		RunID:   s.runID,
		UptimeS: time.Since(s.start).Seconds(),
		Labels:  s.labels,
		Config: statusConfig{
			WindowSize:          cfg.WindowSize,
			Overlap:             cfg.Overlap,
			FeatureSet:          string(cfg.FeatureSet),
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			CooldownS:           cfg.Cooldown.Seconds(),
			QueueSize:           cfg.QueueSize,
			QueuePolicy:         string(cfg.QueuePolicy),
		},
		Pipeline:  s.p.Stats(),
		Debouncer: s.p.Debouncer().State(),
		Dispatch:  s.d.Stats(),
	}
	if s.m != nil {
		status.Serial = s.m.Stats()
	}
	httputil.WriteJSONOK(w, status)
}

func parseLimit(r *http.Request) (int, bool) {
	limit := defaultDecisionLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 1 {
			return 0, false
		}
		limit = min(v, maxDecisionLimit)
	}
	return limit, true
}

func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "decision history is disabled")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		httputil.BadRequest(w, "Invalid 'limit' parameter")
		return
	}

	rows, err := s.store.RecentDecisions(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve decisions: "+err.Error())
		return
	}
	if rows == nil {
		rows = []db.DecisionRow{}
	}
	httputil.WriteJSONOK(w, rows)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		httputil.BadRequest(w, "Invalid 'limit' parameter")
		return
	}

	runs, err := s.store.RecentRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve runs: "+err.Error())
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

// CommandsResponse is the body of /api/commands.
type CommandsResponse struct {
	Address  string            `json:"address"`
	Commands map[string]string `json:"commands"`
	Default  string            `json:"default_command,omitempty"`
	Unmapped []string          `json:"unmapped_labels,omitempty"`
}

func (s *Server) showCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	table := s.d.Table()
	resp := CommandsResponse{
		Address:  s.d.Stats().Address,
		Commands: make(map[string]string),
		Default:  string(table.Fallback()),
		Unmapped: table.Missing(s.labels),
	}
	for label, cmd := range table.Entries() {
		resp.Commands[label] = string(cmd)
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap, ok := s.p.LastSnapshot()
	if !ok {
		httputil.NotFound(w, "no window classified yet")
		return
	}
	httputil.WriteJSONOK(w, snap)
}
