// Package api serves the operator HTTP surface of a running pipeline: perf
// snapshots, the run summary, toggle control and downloads of the run files.
package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/squeakview/internal/db"
	"github.com/banshee-data/squeakview/internal/httputil"
	"github.com/banshee-data/squeakview/internal/metrics"
	"github.com/banshee-data/squeakview/internal/monitoring"
	"github.com/banshee-data/squeakview/internal/security"
	"github.com/banshee-data/squeakview/internal/stage"
	"github.com/banshee-data/squeakview/internal/timeutil"
	"github.com/banshee-data/squeakview/internal/toggles"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// PerfSource yields perf snapshots.
type PerfSource interface {
	Snapshot(now time.Time) metrics.Snapshot
}

// StageSource yields per-frame counters.
type StageSource interface {
	Stats() stage.Stats
	PoseMode() bool
}

// ToggleControl reads and writes operator toggles.
type ToggleControl interface {
	Enabled(toggles.Name) bool
	Set(toggles.Name, bool) error
}

// RunInfo identifies the run being served.
type RunInfo struct {
	ID        string    `json:"run_id"`
	Dir       string    `json:"dir"`
	StartedAt time.Time `json:"started_at"`
}

// Options wires a Server. Every source except Perf may be nil.
type Options struct {
	Run     RunInfo
	Perf    PerfSource
	Stage   StageSource
	Toggles ToggleControl
	DB      *db.DB
	Clock   timeutil.Clock
	// ArtifactsDir, when set, serves the run's files under /api/artifacts/.
	ArtifactsDir string
}

type Server struct {
	opts Options
}

func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Server{opts: opts}
}

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
		monitoring.Diagf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/perf", s.showPerf)
	mux.HandleFunc("/api/run", s.showRun)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/toggles", s.handleToggles)
	mux.HandleFunc("/api/artifacts/", s.serveArtifact)
	return mux
}

func (s *Server) showPerf(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Perf == nil {
		httputil.ServiceUnavailable(w, "perf not running")
		return
	}
	httputil.WriteJSONOK(w, s.opts.Perf.Snapshot(s.opts.Clock.Now()))
}

type runResponse struct {
	RunInfo
	PoseMode bool            `json:"pose_mode"`
	Stage    *stage.Stats    `json:"stage,omitempty"`
	Toggles  map[string]bool `json:"toggles,omitempty"`
	Registry *db.RunRecord   `json:"registry,omitempty"`
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	resp := runResponse{RunInfo: s.opts.Run}
	if s.opts.Stage != nil {
		st := s.opts.Stage.Stats()
		resp.Stage = &st
		resp.PoseMode = s.opts.Stage.PoseMode()
	}
	if s.opts.Toggles != nil {
		resp.Toggles = make(map[string]bool, len(toggles.All))
		for _, n := range toggles.All {
			resp.Toggles[string(n)] = s.opts.Toggles.Enabled(n)
		}
	}
	if s.opts.DB != nil && s.opts.Run.ID != "" {
		rec, err := s.opts.DB.GetRun(s.opts.Run.ID)
		switch {
		case err == nil:
			resp.Registry = rec
		case errors.Is(err, db.ErrRunNotFound):
		default:
			httputil.InternalServerError(w, err.Error())
			return
		}
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.DB == nil {
		httputil.ServiceUnavailable(w, "run registry disabled")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > 1000 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = n
	}
	runs, err := s.opts.DB.RecentRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if runs == nil {
		runs = []db.RunRecord{}
	}
	httputil.WriteJSONOK(w, runs)
}

// handleToggles reports states on GET and sets one on POST
// (name=skeleton&state=on).
func (s *Server) handleToggles(w http.ResponseWriter, r *http.Request) {
	if s.opts.Toggles == nil {
		httputil.ServiceUnavailable(w, "toggles disabled")
		return
	}
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		name := toggles.Name(r.FormValue("name"))
		state := r.FormValue("state")
		if state != "on" && state != "off" {
			httputil.BadRequest(w, "state must be on or off")
			return
		}
		if err := s.opts.Toggles.Set(name, state == "on"); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	default:
		httputil.MethodNotAllowed(w)
		return
	}

	out := make(map[string]bool, len(toggles.All))
	for _, n := range toggles.All {
		out[string(n)] = s.opts.Toggles.Enabled(n)
	}
	httputil.WriteJSONOK(w, out)
}

// serveArtifact downloads one file from the run directory. Paths that
// resolve outside it are rejected.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.ArtifactsDir == "" {
		httputil.ServiceUnavailable(w, "artifacts disabled")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/artifacts/")
	if name == "" {
		s.listArtifacts(w)
		return
	}
	path := filepath.Join(s.opts.ArtifactsDir, filepath.FromSlash(name))
	if err := security.ValidatePathWithinDirectory(path, s.opts.ArtifactsDir); err != nil {
		httputil.BadRequest(w, "invalid artifact path")
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		httputil.NotFound(w, "no such artifact")
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+security.SanitizeFilename(filepath.Base(path)))
	http.ServeFile(w, r, path)
}

type artifact struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

func (s *Server) listArtifacts(w http.ResponseWriter) {
	entries, err := os.ReadDir(s.opts.ArtifactsDir)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := []artifact{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, artifact{Name: e.Name(), Size: info.Size(), Modified: info.ModTime().UTC()})
	}
	httputil.WriteJSONOK(w, out)
}
