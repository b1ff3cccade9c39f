// Package gstprobe attaches the annotation pipeline to a GStreamer graph:
// pad probes feed the perf meters and the per-frame stage, and toggle
// changes are applied to the preview valve and the video selector.
//
// The probe bodies live in Hooks and take plain values so they can be driven
// without GStreamer. The graph side is only built with the gst build tag.
package gstprobe

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/banshee-data/squeakview/internal/metrics"
	"github.com/banshee-data/squeakview/internal/monitoring"
	"github.com/banshee-data/squeakview/internal/stage"
	"github.com/banshee-data/squeakview/internal/timeutil"
)

// BufferInfo is what a probe knows about one buffer.
type BufferInfo struct {
	// Key identifies the buffer across elements that process it in place.
	Key uintptr
	// PTS is negative when the buffer carries no timestamp.
	PTS time.Duration
	// Width and Height are the negotiated caps of the pad, 0 when unknown.
	Width, Height int
	// Native is the underlying GstBuffer for metadata walkers; nil in replay.
	Native unsafe.Pointer
}

// FrameExtractor turns a buffer reaching the OSD into the frames it carries.
type FrameExtractor interface {
	Frames(BufferInfo) ([]stage.FrameInput, error)
}

// FrameExtractorFunc adapts a function to FrameExtractor.
type FrameExtractorFunc func(BufferInfo) ([]stage.FrameInput, error)

// Frames calls f.
func (f FrameExtractorFunc) Frames(b BufferInfo) ([]stage.FrameInput, error) { return f(b) }

// OverlaySink draws the overlay of one processed frame onto the buffer it
// came from.
type OverlaySink interface {
	Draw(b BufferInfo, in stage.FrameInput, out stage.FrameOutput)
}

// ErrNoExtractor is returned by NewHooks when a stage is configured without
// a way to read detector metadata.
var ErrNoExtractor = errors.New("gstprobe: stage configured without a frame metadata extractor")

// HooksConfig wires Hooks. Stage is nil when inference is disabled; perf
// rows are then written from the stream probe. A Stage needs an Extractor;
// Overlay is optional.
type HooksConfig struct {
	Perf      *metrics.Perf
	PerfLog   *metrics.PerfLog
	Stage     *stage.Stage
	Extractor FrameExtractor
	Overlay   OverlaySink
	Clock     timeutil.Clock
}

// HookStats counts probe activity.
type HookStats struct {
	StreamBuffers uint64 `json:"stream_buffers"`
	InferStarts   uint64 `json:"infer_starts"`
	InferEnds     uint64 `json:"infer_ends"`
	OSDBuffers    uint64 `json:"osd_buffers"`
	ExtractErrors uint64 `json:"extract_errors"`
	PerfRows      uint64 `json:"perf_rows"`
}

// Hooks are the probe bodies.
type Hooks struct {
	cfg HooksConfig

	streamBuffers atomic.Uint64
	inferStarts   atomic.Uint64
	inferEnds     atomic.Uint64
	osdBuffers    atomic.Uint64
	extractErrors atomic.Uint64
	perfRows      atomic.Uint64

	perfErrOnce sync.Once
}

// NewHooks fills in the clock and perf meters and checks that a configured
// stage can see detections.
func NewHooks(cfg HooksConfig) (*Hooks, error) {
	if cfg.Stage != nil && cfg.Extractor == nil {
		return nil, ErrNoExtractor
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Perf == nil {
		cfg.Perf = metrics.NewPerf(metrics.TimerConfig{}, cfg.Stage != nil)
	}
	return &Hooks{cfg: cfg}, nil
}

// Perf exposes the meters the hooks feed.
func (h *Hooks) Perf() *metrics.Perf { return h.cfg.Perf }

// StreamBuffer records one buffer past the stream tap.
func (h *Hooks) StreamBuffer() {
	now := h.cfg.Clock.Now()
	h.streamBuffers.Add(1)
	h.cfg.Perf.Stream.Tick(now)
	if h.cfg.Perf.Infer == nil {
		h.writePerf(now)
	}
}

// InferStart records a buffer entering the inference element.
func (h *Hooks) InferStart(key uintptr) {
	if h.cfg.Perf.Infer == nil {
		return
	}
	h.inferStarts.Add(1)
	h.cfg.Perf.Infer.Start(key, h.cfg.Clock.Now())
}

// InferEnd records a buffer leaving the inference element and writes a perf
// row when it pairs with a start.
func (h *Hooks) InferEnd(key uintptr) {
	if h.cfg.Perf.Infer == nil {
		return
	}
	now := h.cfg.Clock.Now()
	h.inferEnds.Add(1)
	if _, ok := h.cfg.Perf.Infer.End(key, now); ok {
		h.writePerf(now)
	}
}

// OSDBuffer runs the stage over every frame in the buffer and returns the
// number of frames processed without error. Frame failures are logged by
// the stage and do not affect the other frames.
func (h *Hooks) OSDBuffer(b BufferInfo) int {
	h.osdBuffers.Add(1)
	if h.cfg.Stage == nil {
		return 0
	}
	frames, err := h.cfg.Extractor.Frames(b)
	if err != nil {
		h.extractErrors.Add(1)
		monitoring.Opsf("[PROBE] warn: frame metadata: %v", err)
		return 0
	}
	ok := 0
	for _, in := range frames {
		if in.Width <= 0 || in.Height <= 0 {
			in.Width, in.Height = b.Width, b.Height
		}
		out, err := h.cfg.Stage.ProcessFrame(in)
		if err != nil {
			continue
		}
		ok++
		if h.cfg.Overlay != nil {
			h.cfg.Overlay.Draw(b, in, out)
		}
	}
	return ok
}

func (h *Hooks) writePerf(now time.Time) {
	if h.cfg.PerfLog == nil {
		return
	}
	if err := h.cfg.PerfLog.Write(h.cfg.Perf.Snapshot(now)); err != nil {
		h.perfErrOnce.Do(func() {
			monitoring.Opsf("[PERF] warn: perf log: %v", err)
		})
		return
	}
	h.perfRows.Add(1)
}

// Sweep drops stale inference starts and returns how many were dropped.
func (h *Hooks) Sweep() int {
	if h.cfg.Perf.Infer == nil {
		return 0
	}
	return h.cfg.Perf.Infer.Sweep(h.cfg.Clock.Now())
}

// Stats returns the hook counters.
func (h *Hooks) Stats() HookStats {
	return HookStats{
		StreamBuffers: h.streamBuffers.Load(),
		InferStarts:   h.inferStarts.Load(),
		InferEnds:     h.inferEnds.Load(),
		OSDBuffers:    h.osdBuffers.Load(),
		ExtractErrors: h.extractErrors.Load(),
		PerfRows:      h.perfRows.Load(),
	}
}
