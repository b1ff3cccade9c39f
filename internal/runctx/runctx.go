// Package runctx creates and locates per-run output directories.
package runctx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/squeakview/internal/fsutil"
	"github.com/banshee-data/squeakview/internal/security"
	"github.com/banshee-data/squeakview/internal/timeutil"
)

const (
	// RunsDirEnv overrides the runs root.
	RunsDirEnv = "SQUEAKVIEW_RUNS_DIR"
	// legacyRunsDirEnv is still honoured for older deployments.
	legacyRunsDirEnv = "PRODUCT_RUNS_DIR"
	// MarkerName is the file in the runs root naming the newest run.
	MarkerName = ".latest_run"

	dirTimeLayout = "2006-01-02_15-04-05"
)

// RunsDir returns the runs root from the environment, or ./runs.
func RunsDir() string {
	for _, env := range []string{RunsDirEnv, legacyRunsDirEnv} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return "runs"
}

// Artifacts are the well-known file paths inside a run directory.
type Artifacts struct {
	RawVideo       string `json:"raw_video"`
	AnnotatedVideo string `json:"annotated_video"`
	DetectionsCSV  string `json:"detections_csv"`
	MetadataJSON   string `json:"metadata_json"`
	SerialCSV      string `json:"serial_csv"`
	PerfCSV        string `json:"perf_csv"`
	DaemonLog      string `json:"daemon_log"`
	Database       string `json:"database"`
}

// ArtifactsFor lays out the artifact paths of dir.
func ArtifactsFor(dir string) Artifacts {
	return Artifacts{
		RawVideo:       filepath.Join(dir, "raw.mp4"),
		AnnotatedVideo: filepath.Join(dir, "annotated.mp4"),
		DetectionsCSV:  filepath.Join(dir, "detections.csv"),
		MetadataJSON:   filepath.Join(dir, "camera_settings.json"),
		SerialCSV:      filepath.Join(dir, "serial.csv"),
		PerfCSV:        filepath.Join(dir, "perf_stats.csv"),
		DaemonLog:      filepath.Join(dir, "squeakview.log"),
		Database:       filepath.Join(dir, "run.db"),
	}
}

// Run is one output directory.
type Run struct {
	ID        uuid.UUID
	Dir       string
	StartedAt time.Time
	Artifacts Artifacts
}

// Manager creates runs under Root.
type Manager struct {
	Root  string
	fs    fsutil.FileSystem
	clock timeutil.Clock
}

// NewManager returns a manager for root. Nil fsys or clock select the OS
// filesystem and the real clock.
func NewManager(root string, fsys fsutil.FileSystem, clock timeutil.Clock) *Manager {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{Root: root, fs: fsys, clock: clock}
}

// MarkerPath returns the path of the latest-run marker.
func (m *Manager) MarkerPath() string { return filepath.Join(m.Root, MarkerName) }

// NewRun creates prefix_YYYY-MM-DD_HH-MM-SS_<8 hex> under Root and points the
// marker at it. An empty prefix omits the leading "prefix_"; any other prefix
// is reduced to filename-safe characters.
func (m *Manager) NewRun(prefix string) (*Run, error) {
	now := m.clock.Now()
	id := uuid.New()
	name := now.Format(dirTimeLayout)
	if prefix != "" {
		name = security.SanitizeFilename(prefix) + "_" + name
	}
	name += "_" + strings.ReplaceAll(id.String(), "-", "")[:8]

	dir := filepath.Join(m.Root, name)
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	if err := fsutil.WriteFileAtomic(m.fs, m.MarkerPath(), []byte(dir), 0o644); err != nil {
		return nil, fmt.Errorf("write run marker: %w", err)
	}
	return &Run{ID: id, Dir: dir, StartedAt: now, Artifacts: ArtifactsFor(dir)}, nil
}

// UseDir adopts an operator-supplied directory. The marker is left alone.
func (m *Manager) UseDir(dir string) (*Run, error) {
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &Run{ID: uuid.New(), Dir: dir, StartedAt: m.clock.Now(), Artifacts: ArtifactsFor(dir)}, nil
}

// Latest returns the directory named by the marker, if it still exists.
func (m *Manager) Latest() (string, bool) {
	data, err := m.fs.ReadFile(m.MarkerPath())
	if err != nil {
		return "", false
	}
	dir := strings.TrimSpace(string(data))
	if dir == "" || !m.fs.Exists(dir) {
		return "", false
	}
	return dir, true
}

// WriteMetadata writes payload as indented JSON with sorted keys to the run's
// metadata file and returns its path.
func (m *Manager) WriteMetadata(r *Run, payload map[string]any) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	path := r.Artifacts.MetadataJSON
	if err := m.fs.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}
	return path, nil
}
