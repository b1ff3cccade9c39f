package metrics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

// Snapshot is a point-in-time view of both meters. Each value is only
// meaningful when its OK flag is set.
type Snapshot struct {
	Timestamp    time.Time  `json:"timestamp"`
	StreamFPS    float64    `json:"stream_fps"`
	StreamOK     bool       `json:"stream_ok"`
	InferFPS     float64    `json:"inference_fps"`
	InferOK      bool       `json:"inference_ok"`
	LatencyMs    float64    `json:"latency_ms"`
	LatencyOK    bool       `json:"latency_ok"`
	LatencyP95Ms float64    `json:"latency_p95_ms"`
	StreamTotal  uint64     `json:"stream_total"`
	Timer        TimerStats `json:"timer"`
}

// Perf groups the stream meter and the inference timer of one run. Infer is
// nil when inference is disabled.
type Perf struct {
	Stream *StreamMeter
	Infer  *InferenceTimer
}

// NewPerf builds both meters with a shared horizon. Without inference only
// the stream meter is created.
func NewPerf(cfg TimerConfig, inference bool) *Perf {
	p := &Perf{Stream: NewStreamMeter(cfg.Horizon)}
	if inference {
		p.Infer = NewInferenceTimer(cfg)
	}
	return p
}

// Snapshot reads both meters at now, first expiring samples older than the
// horizon.
func (p *Perf) Snapshot(now time.Time) Snapshot {
	s := Snapshot{Timestamp: now}
	p.Stream.Expire(now)
	if p.Infer != nil {
		p.Infer.Expire(now)
	}
	s.StreamFPS, s.StreamOK = p.Stream.FPS()
	s.StreamTotal = p.Stream.Total()
	if p.Infer != nil {
		s.InferFPS, s.InferOK = p.Infer.FPS()
		s.LatencyMs, s.LatencyOK = p.Infer.LatencyMs()
		s.LatencyP95Ms, _ = p.Infer.LatencyQuantileMs(0.95)
		s.Timer = p.Infer.Stats()
	}
	return s
}

// PerfHeader is the perf CSV header.
var PerfHeader = []string{"timestamp", "streaming_fps", "inference_fps", "latency_ms"}

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("metrics: perf log closed")

// PerfLog appends one CSV row per snapshot and flushes after each row.
type PerfLog struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
	rows   int
	closed bool
}

// CreatePerfLog creates (truncating) the perf CSV at path.
func CreatePerfLog(path string) (*PerfLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create perf log %s: %w", path, err)
	}
	pl, err := NewPerfLog(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return pl, nil
}

// NewPerfLog writes the header to w. If w is an io.Closer it is closed by
// Close.
func NewPerfLog(w io.Writer) (*PerfLog, error) {
	pl := &PerfLog{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		pl.closer = c
	}
	if err := pl.w.Write(PerfHeader); err != nil {
		return nil, fmt.Errorf("write perf header: %w", err)
	}
	pl.w.Flush()
	return pl, pl.w.Error()
}

// Write appends s. Unavailable values are written as empty fields.
func (pl *PerfLog) Write(s Snapshot) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.closed {
		return ErrClosed
	}
	row := []string{
		s.Timestamp.Format("15:04:05"),
		formatRate(s.StreamFPS, s.StreamOK),
		formatRate(s.InferFPS, s.InferOK),
		formatRate(s.LatencyMs, s.LatencyOK),
	}
	if err := pl.w.Write(row); err != nil {
		return fmt.Errorf("write perf row: %w", err)
	}
	pl.w.Flush()
	if err := pl.w.Error(); err != nil {
		return fmt.Errorf("flush perf row: %w", err)
	}
	pl.rows++
	return nil
}

// Rows returns the number of data rows written.
func (pl *PerfLog) Rows() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.rows
}

// Close flushes and closes the underlying writer. It is safe to call twice.
func (pl *PerfLog) Close() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.closed {
		return nil
	}
	pl.closed = true
	pl.w.Flush()
	err := pl.w.Error()
	if pl.closer != nil {
		if cerr := pl.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func formatRate(v float64, ok bool) string {
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}
