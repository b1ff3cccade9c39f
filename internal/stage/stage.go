// Package stage runs the per-frame annotation path: fetch the pose batch,
// match it to detections, write telemetry rows and budget the overlay.
package stage

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/banshee-data/squeakview/internal/monitoring"
	"github.com/banshee-data/squeakview/internal/overlay"
	"github.com/banshee-data/squeakview/internal/pose"
	"github.com/banshee-data/squeakview/internal/telemetry"
	"github.com/banshee-data/squeakview/internal/toggles"
)

// ToggleSource reports the current state of a control toggle.
type ToggleSource interface {
	Enabled(toggles.Name) bool
}

// Config wires a Stage. Reader is nil when the inference parser is not a
// pose parser; the stage then logs detections without keypoints.
type Config struct {
	Reader    *pose.Reader
	Matcher   *pose.Matcher
	Allocator *overlay.Allocator
	Log       *telemetry.Log

	// KeypointNames label the CSV columns once K is known.
	KeypointNames []string

	// Budget is the default overlay capacity; FrameInput.Budget overrides it.
	Budget  overlay.Budget
	Overlay overlay.Options
	// Toggles, if set, drives Overlay.Skeleton per frame.
	Toggles ToggleSource

	// DefaultWidth and DefaultHeight replace degenerate frame sizes.
	DefaultWidth, DefaultHeight int
}

// FrameInput is everything the stage needs from one frame's metadata.
type FrameInput struct {
	FrameNum int64
	// PTS is the buffer presentation timestamp; zero or negative is unknown.
	PTS        time.Duration
	StreamID   int
	Width      int
	Height     int
	Detections []pose.Detection
	// Budget, when non-nil, is the capacity of this frame's display surface.
	Budget *overlay.Budget
}

// FrameOutput is the result of one frame.
type FrameOutput struct {
	Seq         uint64
	Annotations []pose.Annotation
	Overlay     overlay.Primitives
	RowsWritten int
}

// Stats counts frames since the stage started.
type Stats struct {
	Frames       uint64 `json:"frames"`
	FramesFailed uint64 `json:"frames_failed"`
	Rows         uint64 `json:"rows"`
	Matched      uint64 `json:"matched"`
	Keypoints    int    `json:"keypoints"`
}

// Stage holds the per-run state of the annotation path. ProcessFrame calls
// are serialised.
type Stage struct {
	mu    sync.Mutex
	cfg   Config
	stats Stats

	closers  []io.Closer
	stopOnce sync.Once
	stopErr  error

	discovered sync.Once
	widthWarn  sync.Once
}

// New validates cfg and returns a Stage.
func New(cfg Config) (*Stage, error) {
	if cfg.Log == nil {
		return nil, errors.New("stage: telemetry log is required")
	}
	if cfg.Matcher == nil {
		cfg.Matcher = pose.NewMatcher(pose.DefaultMatchPolicy())
	}
	if cfg.Allocator == nil {
		cfg.Allocator = overlay.NewAllocator()
	}
	return &Stage{cfg: cfg}, nil
}

// PoseMode reports whether the stage decodes keypoints.
func (s *Stage) PoseMode() bool { return s.cfg.Reader != nil }

// AddCloser registers c to be closed by Stop, after the telemetry log.
func (s *Stage) AddCloser(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, c)
}

// ProcessFrame annotates one frame. An error means the rest of the frame
// was skipped; the next frame is processed normally. Panics are recovered
// and returned as errors.
func (s *Stage) ProcessFrame(in FrameInput) (out FrameOutput, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage: panic in frame %d: %v", in.FrameNum, r)
			monitoring.Diagf("[PROBE] %v\n%s", err, debug.Stack())
		}
		s.stats.Frames++
		if err != nil {
			s.stats.FramesFailed++
			monitoring.Opsf("[PROBE] warn: frame %d: %v", in.FrameNum, err)
		}
	}()

	var entries []pose.Entry
	if s.cfg.Reader != nil {
		batch, ferr := s.cfg.Reader.Fetch(s.geometry(in))
		if ferr != nil {
			monitoring.Diagf("[POSE] fetch: %v", ferr)
		}
		out.Seq = batch.Seq
		entries = batch.Entries
		if err := s.ensureSchema(batch.KeypointCount); err != nil {
			return out, err
		}
	}

	if s.cfg.Reader != nil {
		out.Annotations = s.cfg.Matcher.Match(in.Detections, entries)
	} else {
		out.Annotations = make([]pose.Annotation, len(in.Detections))
		for i, d := range in.Detections {
			out.Annotations[i] = pose.Annotation{Detection: d, PoseIndex: -1}
		}
	}

	tsMs := int64(-1)
	if in.PTS > 0 {
		tsMs = in.PTS.Milliseconds()
	}
	k := s.cfg.Log.Schema().Keypoints
	for _, ann := range out.Annotations {
		row := telemetry.Row{
			Frame:      in.FrameNum,
			TsMs:       tsMs,
			StreamID:   in.StreamID,
			ObjectID:   ann.Detection.ObjectID,
			ClassID:    ann.Detection.ClassID,
			ClassLabel: ann.Detection.Label,
			Confidence: ann.Detection.Confidence,
			Rect:       ann.Detection.Rect,
		}
		if ann.Matched() {
			s.stats.Matched++
			if len(ann.Pose.Keypoints) == k {
				row.Keypoints = ann.Pose.Keypoints
			} else {
				s.widthWarn.Do(func() {
					monitoring.Opsf("[POSE] keypoint count %d does not match log schema %d; writing blanks", len(ann.Pose.Keypoints), k)
				})
			}
		}
		if err := s.cfg.Log.Append(row); err != nil {
			return out, fmt.Errorf("append row: %w", err)
		}
		out.RowsWritten++
		s.stats.Rows++
	}

	if s.cfg.Reader != nil {
		budget := s.cfg.Budget
		if in.Budget != nil {
			budget = *in.Budget
		}
		opts := s.cfg.Overlay
		if s.cfg.Toggles != nil {
			opts.Skeleton = s.cfg.Toggles.Enabled(toggles.Skeleton)
		}
		out.Overlay = s.cfg.Allocator.Allocate(out.Annotations, budget, opts)
	}
	return out, nil
}

// ensureSchema widens the telemetry log once K becomes known, as long as no
// row has been written.
func (s *Stage) ensureSchema(k int) error {
	if k <= 0 {
		return nil
	}
	s.stats.Keypoints = k
	want := telemetry.NewSchema(k, s.cfg.KeypointNames)
	if s.cfg.Log.Rows() > 0 || s.cfg.Log.Schema().Equal(want) {
		return nil
	}
	if err := s.cfg.Log.EnsureSchema(want); err != nil {
		return fmt.Errorf("telemetry schema: %w", err)
	}
	s.discovered.Do(func() {
		monitoring.Opsf("[POSE] keypoints discovered: k=%d named=%t", k, len(want.Names) > 0)
	})
	return nil
}

func (s *Stage) geometry(in FrameInput) pose.FrameGeometry {
	w, h := in.Width, in.Height
	if w <= 0 || h <= 0 {
		w, h = s.cfg.DefaultWidth, s.cfg.DefaultHeight
	}
	return pose.FrameGeometry{Width: float64(w), Height: float64(h)}
}

// Stats returns a copy of the counters.
func (s *Stage) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Stop flushes and closes the telemetry log and every registered closer.
// Only the first call does anything; later calls return the same error.
func (s *Stage) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		errs := []error{s.cfg.Log.Close()}
		for _, c := range s.closers {
			errs = append(errs, c.Close())
		}
		s.stopErr = errors.Join(errs...)
		monitoring.Opsf("[INFO] stage stopped: frames=%d failed=%d rows=%d", s.stats.Frames, s.stats.FramesFailed, s.stats.Rows)
	})
	return s.stopErr
}
