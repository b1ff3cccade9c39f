package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the operator-tunable parameters of the annotation
// stage. Every field is optional; the Get* methods supply defaults, so a
// partial file is safe.
type TuningConfig struct {
	// Source frame dimensions used when a frame reports none.
	FrameWidth  *int `json:"frame_width,omitempty"`
	FrameHeight *int `json:"frame_height,omitempty"`

	// Perf meters
	PerfWindow         *string `json:"perf_window,omitempty"`           // duration string like "5s"
	PendingStartMaxAge *string `json:"pending_start_max_age,omitempty"` // duration string like "2s"
	MaxPendingStarts   *int    `json:"max_pending_starts,omitempty"`
	PerfSampleInterval *string `json:"perf_sample_interval,omitempty"`

	// Telemetry log
	FlushEvery *int `json:"flush_every,omitempty"`

	// Overlay
	MaxPoints    *int  `json:"max_points,omitempty"`
	MaxLines     *int  `json:"max_lines,omitempty"`
	DrawRadius   *int  `json:"draw_radius,omitempty"`
	DrawSkeleton *bool `json:"draw_skeleton,omitempty"`

	// Matching
	MatchMinIoU *float64 `json:"match_min_iou,omitempty"`

	// Control files
	TogglePollInterval *string `json:"toggle_poll_interval,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to its
// default, as written to DefaultConfigPath.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		FrameWidth:         ptrInt(e.GetFrameWidth()),
		FrameHeight:        ptrInt(e.GetFrameHeight()),
		PerfWindow:         ptrString(e.GetPerfWindow().String()),
		PendingStartMaxAge: ptrString(e.GetPendingStartMaxAge().String()),
		MaxPendingStarts:   ptrInt(e.GetMaxPendingStarts()),
		PerfSampleInterval: ptrString(e.GetPerfSampleInterval().String()),
		FlushEvery:         ptrInt(e.GetFlushEvery()),
		MaxPoints:          ptrInt(e.GetMaxPoints()),
		MaxLines:           ptrInt(e.GetMaxLines()),
		DrawRadius:         ptrInt(e.GetDrawRadius()),
		DrawSkeleton:       ptrBool(e.GetDrawSkeleton()),
		MatchMinIoU:        ptrFloat64(e.GetMatchMinIoU()),
		TogglePollInterval: ptrString(e.GetTogglePollInterval().String()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must have
// a .json extension and be at most 1 MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *TuningConfig) Validate() error {
	durations := []struct {
		name string
		v    *string
	}{
		{"perf_window", c.PerfWindow},
		{"pending_start_max_age", c.PendingStartMaxAge},
		{"perf_sample_interval", c.PerfSampleInterval},
		{"toggle_poll_interval", c.TogglePollInterval},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		v, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, v)
		}
	}

	counts := []struct {
		name string
		v    *int
		min  int
	}{
		{"frame_width", c.FrameWidth, 1},
		{"frame_height", c.FrameHeight, 1},
		{"max_pending_starts", c.MaxPendingStarts, 1},
		{"flush_every", c.FlushEvery, 1},
		{"max_points", c.MaxPoints, 0},
		{"max_lines", c.MaxLines, 0},
		{"draw_radius", c.DrawRadius, 1},
	}
	for _, n := range counts {
		if n.v != nil && *n.v < n.min {
			return fmt.Errorf("%s must be at least %d, got %d", n.name, n.min, *n.v)
		}
	}

	if c.MatchMinIoU != nil && (*c.MatchMinIoU < 0 || *c.MatchMinIoU >= 1) {
		return fmt.Errorf("match_min_iou must be in [0, 1), got %f", *c.MatchMinIoU)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetFrameWidth returns the fallback source frame width.
func (c *TuningConfig) GetFrameWidth() int {
	if c.FrameWidth == nil {
		return 1280
	}
	return *c.FrameWidth
}

// GetFrameHeight returns the fallback source frame height.
func (c *TuningConfig) GetFrameHeight() int {
	if c.FrameHeight == nil {
		return 720
	}
	return *c.FrameHeight
}

// GetPerfWindow returns the sliding window length of the perf meters.
func (c *TuningConfig) GetPerfWindow() time.Duration {
	return durationOr(c.PerfWindow, 5*time.Second)
}

// GetPendingStartMaxAge returns how long an inference start may wait for
// its exit.
func (c *TuningConfig) GetPendingStartMaxAge() time.Duration {
	return durationOr(c.PendingStartMaxAge, 2*time.Second)
}

// GetMaxPendingStarts returns the cap on outstanding inference starts.
func (c *TuningConfig) GetMaxPendingStarts() int {
	if c.MaxPendingStarts == nil {
		return 256
	}
	return *c.MaxPendingStarts
}

// GetPerfSampleInterval returns the period of the perf sweep and registry
// sample.
func (c *TuningConfig) GetPerfSampleInterval() time.Duration {
	return durationOr(c.PerfSampleInterval, time.Second)
}

// GetFlushEvery returns the telemetry flush interval in rows.
func (c *TuningConfig) GetFlushEvery() int {
	if c.FlushEvery == nil {
		return 25
	}
	return *c.FlushEvery
}

// GetMaxPoints returns the per-frame keypoint circle budget.
func (c *TuningConfig) GetMaxPoints() int {
	if c.MaxPoints == nil {
		return 16
	}
	return *c.MaxPoints
}

// GetMaxLines returns the per-frame skeleton line budget.
func (c *TuningConfig) GetMaxLines() int {
	if c.MaxLines == nil {
		return 16
	}
	return *c.MaxLines
}

// GetDrawRadius returns the keypoint circle radius.
func (c *TuningConfig) GetDrawRadius() int {
	if c.DrawRadius == nil {
		return 8
	}
	return *c.DrawRadius
}

// GetDrawSkeleton returns the initial skeleton toggle state.
func (c *TuningConfig) GetDrawSkeleton() bool {
	if c.DrawSkeleton == nil {
		return false
	}
	return *c.DrawSkeleton
}

// GetMatchMinIoU returns the exclusive IoU floor for pose matching.
func (c *TuningConfig) GetMatchMinIoU() float64 {
	if c.MatchMinIoU == nil {
		return 0
	}
	return *c.MatchMinIoU
}

// GetTogglePollInterval returns the control file polling period.
func (c *TuningConfig) GetTogglePollInterval() time.Duration {
	return durationOr(c.TogglePollInterval, time.Second)
}
