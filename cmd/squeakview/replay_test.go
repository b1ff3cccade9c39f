package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/squeakview/internal/gstprobe"
	"github.com/banshee-data/squeakview/internal/metrics"
	"github.com/banshee-data/squeakview/internal/pose"
	"github.com/banshee-data/squeakview/internal/timeutil"
)

var replayEpoch = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

// poseRow is one pose cache row with two keypoints in network pixels.
func poseRow(x1, y1, x2, y2 float32, conf float32) []float32 {
	return []float32{x1, y1, x2, y2, conf, x1 + 5, y1 + 5, 0.9, x2 - 5, y2 - 5, 0.8}
}

func frameLine(t *testing.T, f replayFrame) string {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	return string(data)
}

// replayScript is three 640x640 frames 100 ms apart, each with one mouse
// and the pose cache entry that overlaps it.
func replayScript(t *testing.T) string {
	t.Helper()
	id := int64(4)
	var lines []string
	for i := 0; i < 3; i++ {
		x := float64(100 + 10*i)
		lines = append(lines, frameLine(t, replayFrame{
			FrameNum: int64(i),
			PTSMs:    float64(100 * i),
			Width:    640,
			Height:   640,
			InferMs:  12,
			Detections: []replayDetection{{
				Left: x, Top: 100, Width: 80, Height: 60,
				Confidence: 0.8, Label: "mouse", ObjectID: &id,
			}},
			Pose: &replayPose{
				Seq:       uint64(i + 1),
				Keypoints: 2,
				Data:      poseRow(float32(x), 100, float32(x)+80, 160, 0.9),
			},
		}))
	}
	return strings.Join(lines, "\n") + "\n"
}

func TestReplayFrame_Input(t *testing.T) {
	id := int64(9)
	f := replayFrame{
		FrameNum: 7,
		PTSMs:    -1,
		StreamID: 1,
		Detections: []replayDetection{
			{Left: 1, Top: 2, Width: 3, Height: 4, Confidence: 0.5, Label: "a", ObjectID: &id},
			{Left: 5, Top: 6, Width: 7, Height: 8, Confidence: 0.6, Label: "b"},
		},
	}
	in := f.input()
	assert.Equal(t, time.Duration(-1), in.PTS)
	assert.Equal(t, 1, in.StreamID)
	require.Len(t, in.Detections, 2)
	assert.Equal(t, pose.Rect{X: 1, Y: 2, W: 3, H: 4}, in.Detections[0].Rect)
	assert.Equal(t, int64(9), in.Detections[0].ObjectID)
	assert.Equal(t, pose.UntrackedObjectID, in.Detections[1].ObjectID)

	assert.Equal(t, 1500*time.Millisecond, replayFrame{PTSMs: 1500}.pts())
}

func TestReplayer_RunDrivesHooks(t *testing.T) {
	clock := timeutil.NewMockClock(replayEpoch)
	r := NewReplayer(clock)
	perf := metrics.NewPerf(metrics.TimerConfig{}, true)
	hooks, err := gstprobe.NewHooks(gstprobe.HooksConfig{Perf: perf, Extractor: r, Clock: clock})
	require.NoError(t, err)
	r.Attach(hooks)

	src := replayScript(t) + "not json\n\n"
	st, err := r.Run(context.Background(), strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, 5, st.Lines)
	assert.Equal(t, 3, st.Frames)
	assert.Equal(t, 1, st.BadLines)
	assert.Zero(t, st.Processed, "no stage attached")

	hs := hooks.Stats()
	assert.Equal(t, uint64(3), hs.StreamBuffers)
	assert.Equal(t, uint64(3), hs.InferStarts)
	assert.Equal(t, uint64(3), hs.OSDBuffers)

	// last frame at 200 ms plus its 12 ms of inference
	assert.Equal(t, replayEpoch.Add(212*time.Millisecond), clock.Now())

	snap := perf.Snapshot(clock.Now())
	require.True(t, snap.LatencyOK)
	assert.InDelta(t, 12.0, snap.LatencyMs, 1e-9)
	require.True(t, snap.StreamOK)
	assert.InDelta(t, 10.0, snap.StreamFPS, 1e-9)
}

func TestReplayer_QueryCopiesPayload(t *testing.T) {
	r := NewReplayer(timeutil.NewMockClock(replayEpoch))
	data, k, seq := r.Query()
	assert.Nil(t, data)
	assert.Zero(t, k)
	assert.Zero(t, seq)

	r.pose = replayPose{Seq: 3, Keypoints: 2, Data: poseRow(0, 0, 10, 10, 0.5)}
	data, k, seq = r.Query()
	assert.Equal(t, 2, k)
	assert.Equal(t, uint64(3), seq)
	data[0] = 99
	assert.Equal(t, float32(0), r.pose.Data[0])
}

func TestReplayer_RequiresHooks(t *testing.T) {
	r := NewReplayer(timeutil.NewMockClock(replayEpoch))
	_, err := r.Run(context.Background(), strings.NewReader(""))
	assert.Error(t, err)
}

func TestReplayer_StopsOnCancel(t *testing.T) {
	clock := timeutil.NewMockClock(replayEpoch)
	r := NewReplayer(clock)
	hooks, err := gstprobe.NewHooks(gstprobe.HooksConfig{Extractor: r, Clock: clock})
	require.NoError(t, err)
	r.Attach(hooks)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st, err := r.Run(ctx, strings.NewReader(replayScript(t)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, st.Frames)
}
