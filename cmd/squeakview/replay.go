package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/squeakview/internal/gstprobe"
	"github.com/banshee-data/squeakview/internal/monitoring"
	"github.com/banshee-data/squeakview/internal/pose"
	"github.com/banshee-data/squeakview/internal/stage"
	"github.com/banshee-data/squeakview/internal/timeutil"
)

// replayFrame is one line of a replay file.
type replayFrame struct {
	FrameNum int64 `json:"frame_num"`
	// PTSMs is the presentation timestamp in milliseconds, negative when
	// unknown.
	PTSMs      float64           `json:"pts_ms"`
	StreamID   int               `json:"stream_id"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	InferMs    float64           `json:"infer_ms"`
	Detections []replayDetection `json:"detections"`
	Pose       *replayPose       `json:"pose,omitempty"`
}

type replayDetection struct {
	Left       float64 `json:"left"`
	Top        float64 `json:"top"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
	ObjectID   *int64  `json:"object_id,omitempty"`
}

// replayPose is the pose cache payload current when the frame was recorded.
type replayPose struct {
	Seq       uint64    `json:"seq"`
	Keypoints int       `json:"k"`
	Data      []float32 `json:"data"`
}

func (f replayFrame) pts() time.Duration {
	if f.PTSMs < 0 {
		return -1
	}
	return time.Duration(f.PTSMs * float64(time.Millisecond))
}

func (f replayFrame) input() stage.FrameInput {
	in := stage.FrameInput{
		FrameNum: f.FrameNum,
		PTS:      f.pts(),
		StreamID: f.StreamID,
		Width:    f.Width,
		Height:   f.Height,
	}
	for _, d := range f.Detections {
		id := pose.UntrackedObjectID
		if d.ObjectID != nil {
			id = *d.ObjectID
		}
		in.Detections = append(in.Detections, pose.Detection{
			Rect:       pose.Rect{X: d.Left, Y: d.Top, W: d.Width, H: d.Height},
			Confidence: d.Confidence,
			ClassID:    d.ClassID,
			Label:      d.Label,
			ObjectID:   id,
		})
	}
	return in
}

// ReplayStats summarise a replay.
type ReplayStats struct {
	Lines     int
	Frames    int
	BadLines  int
	Processed int
}

// Replayer drives the probe hooks from a recorded frame file. It stands in
// for both the frame metadata walker and the native pose cache, and moves a
// mock clock along the recorded timestamps so perf rates match the
// recording.
type Replayer struct {
	clock *timeutil.MockClock
	hooks *gstprobe.Hooks

	mu      sync.Mutex
	current replayFrame
	pose    replayPose
	// base is the clock time of PTS zero, set by the first timed frame.
	base time.Time
}

func NewReplayer(clock *timeutil.MockClock) *Replayer {
	return &Replayer{clock: clock}
}

// Attach sets the hooks to drive. It must be called before Run.
func (r *Replayer) Attach(h *gstprobe.Hooks) { r.hooks = h }

// Frames implements gstprobe.FrameExtractor.
func (r *Replayer) Frames(gstprobe.BufferInfo) ([]stage.FrameInput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return []stage.FrameInput{r.current.input()}, nil
}

// Query implements pose.Querier. The payload is copied.
func (r *Replayer) Query() ([]float32, int, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pose.Seq == 0 {
		return nil, 0, 0
	}
	return append([]float32(nil), r.pose.Data...), r.pose.Keypoints, r.pose.Seq
}

// Run reads newline-delimited frames from src until EOF or ctx is done.
// Malformed lines are logged and skipped.
func (r *Replayer) Run(ctx context.Context, src io.Reader) (ReplayStats, error) {
	if r.hooks == nil {
		return ReplayStats{}, fmt.Errorf("replay: hooks not attached")
	}
	var st ReplayStats
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Lines++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var f replayFrame
		if err := json.Unmarshal(line, &f); err != nil {
			st.BadLines++
			monitoring.Opsf("[REPLAY] warn: line %d: %v", st.Lines, err)
			continue
		}
		st.Frames++
		st.Processed += r.step(uintptr(st.Frames), f)
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("read replay: %w", err)
	}
	monitoring.Opsf("[REPLAY] done: lines=%d frames=%d bad=%d processed=%d", st.Lines, st.Frames, st.BadLines, st.Processed)
	return st, nil
}

// step plays one frame through the hooks in pipeline order.
func (r *Replayer) step(key uintptr, f replayFrame) int {
	pts := f.pts()
	r.mu.Lock()
	if pts >= 0 {
		if r.base.IsZero() {
			r.base = r.clock.Now().Add(-pts)
		}
		if at := r.base.Add(pts); at.After(r.clock.Now()) {
			r.clock.Set(at)
		}
	}
	r.current = f
	if f.Pose != nil {
		r.pose = *f.Pose
	}
	r.mu.Unlock()

	r.hooks.StreamBuffer()
	r.hooks.InferStart(key)
	if f.InferMs > 0 {
		r.clock.Advance(time.Duration(f.InferMs * float64(time.Millisecond)))
	}
	r.hooks.InferEnd(key)
	return r.hooks.OSDBuffer(gstprobe.BufferInfo{Key: key, PTS: pts, Width: f.Width, Height: f.Height})
}
