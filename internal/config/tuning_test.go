package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	if cfg.PerfWindow == nil || *cfg.PerfWindow != "5s" {
		t.Errorf("Expected PerfWindow '5s', got %v", cfg.PerfWindow)
	}
	if cfg.MaxPendingStarts == nil || *cfg.MaxPendingStarts != 256 {
		t.Errorf("Expected MaxPendingStarts 256, got %v", cfg.MaxPendingStarts)
	}
	if cfg.FlushEvery == nil || *cfg.FlushEvery != 25 {
		t.Errorf("Expected FlushEvery 25, got %v", cfg.FlushEvery)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}

	empty := EmptyTuningConfig()
	if got := empty.GetPendingStartMaxAge(); got != 2*time.Second {
		t.Errorf("GetPendingStartMaxAge() = %v, want 2s", got)
	}
	if got := empty.GetDrawRadius(); got != 8 {
		t.Errorf("GetDrawRadius() = %d, want 8", got)
	}
	if got := empty.GetMatchMinIoU(); got != 0 {
		t.Errorf("GetMatchMinIoU() = %f, want 0", got)
	}
	if got := empty.GetTogglePollInterval(); got != time.Second {
		t.Errorf("GetTogglePollInterval() = %v, want 1s", got)
	}
}

func TestDefaultsFileMatchesCode(t *testing.T) {
	path := filepath.Join("..", "..", DefaultConfigPath)
	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("load %s: %v", path, err)
	}
	if diff := cmp.Diff(DefaultTuningConfig(), cfg); diff != "" {
		t.Errorf("%s drifted from DefaultTuningConfig (-code +file):\n%s", DefaultConfigPath, diff)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "perf_window": "10s",
  "max_points": 64,
  "draw_skeleton": true,
  "match_min_iou": 0.1
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.GetPerfWindow(); got != 10*time.Second {
		t.Errorf("GetPerfWindow() = %v, want 10s", got)
	}
	if got := cfg.GetMaxPoints(); got != 64 {
		t.Errorf("GetMaxPoints() = %d, want 64", got)
	}
	if !cfg.GetDrawSkeleton() {
		t.Error("GetDrawSkeleton() = false, want true")
	}
	if got := cfg.GetMatchMinIoU(); got != 0.1 {
		t.Errorf("GetMatchMinIoU() = %f, want 0.1", got)
	}
	// Omitted fields fall back to defaults.
	if got := cfg.GetFlushEvery(); got != 25 {
		t.Errorf("GetFlushEvery() = %d, want 25", got)
	}
	if got := cfg.GetFrameWidth(); got != 1280 {
		t.Errorf("GetFrameWidth() = %d, want 1280", got)
	}
}

func TestLoadTuningConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", write("c.yaml", "{}"), ".json extension"},
		{"missing", filepath.Join(tmpDir, "nope.json"), "failed to stat"},
		{"bad json", write("bad.json", "{"), "failed to parse"},
		{"bad duration", write("dur.json", `{"perf_window": "soon"}`), "invalid perf_window"},
		{"negative duration", write("neg.json", `{"toggle_poll_interval": "-1s"}`), "must be positive"},
		{"zero flush", write("flush.json", `{"flush_every": 0}`), "flush_every must be at least 1"},
		{"iou out of range", write("iou.json", `{"match_min_iou": 1.5}`), "match_min_iou"},
		{"too large", write("big.json", `{"x":"`+strings.Repeat("a", 1<<20)+`"}`), "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTuningConfig(tt.path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadTuningConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &TuningConfig{PerfWindow: ptrString("garbage"), PerfSampleInterval: ptrString("")}
	if got := cfg.GetPerfWindow(); got != 5*time.Second {
		t.Errorf("GetPerfWindow() = %v, want default on parse error", got)
	}
	if got := cfg.GetPerfSampleInterval(); got != time.Second {
		t.Errorf("GetPerfSampleInterval() = %v, want default on empty", got)
	}
}

func TestTuningConfig_JSONRoundTripOmitsUnset(t *testing.T) {
	data, err := json.Marshal(&TuningConfig{MaxLines: ptrInt(4)})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"max_lines":4}` {
		t.Errorf("got %s", data)
	}
}
