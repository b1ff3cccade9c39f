package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/squeakview/internal/pose"
)

// annotation builds a matched annotation whose pose box equals its detection
// rectangle, with k keypoints spread along the diagonal at the given score.
func annotation(x, y, size float64, k int, score float64) pose.Annotation {
	e := &pose.Entry{
		Box:        pose.Box{X1: x, Y1: y, X2: x + size, Y2: y + size},
		Confidence: 0.9,
	}
	for i := 0; i < k; i++ {
		f := float64(i) / float64(k)
		e.Keypoints = append(e.Keypoints, pose.Keypoint{X: x + f*size, Y: y + f*size, Score: score})
	}
	return pose.Annotation{
		Detection: pose.Detection{Rect: pose.Rect{X: x, Y: y, W: size, H: size}, Confidence: 0.9, ObjectID: pose.UntrackedObjectID},
		Pose:      e,
	}
}

func TestAllocate_PointBudgetStopsEarly(t *testing.T) {
	t.Parallel()

	anns := []pose.Annotation{
		annotation(0, 0, 100, 4, 0.9),
		annotation(200, 0, 100, 4, 0.9),
		annotation(400, 0, 100, 4, 0.9),
	}
	prims := NewAllocator().Allocate(anns, Budget{MaxPoints: 5, MaxLines: 100}, Options{})

	require.Len(t, prims.Points, 5)
	for i := 0; i < 4; i++ {
		assert.Less(t, prims.Points[i].X, 200, "first four points belong to the first annotation")
	}
	assert.GreaterOrEqual(t, prims.Points[4].X, 200)
	assert.Less(t, prims.Points[4].X, 400)
}

func TestAllocate_HugeInputStaysWithinBudget(t *testing.T) {
	t.Parallel()

	anns := make([]pose.Annotation, 10000)
	for i := range anns {
		anns[i] = annotation(float64(i%100)*10, float64(i/100)*10, 10, 17, 1)
	}
	budget := Budget{MaxPoints: 128, MaxLines: 64}
	prims := NewAllocator().Allocate(anns, budget, Options{Skeleton: true})

	assert.LessOrEqual(t, len(prims.Points), budget.MaxPoints)
	assert.LessOrEqual(t, len(prims.Lines), budget.MaxLines)
	assert.Len(t, prims.Points, budget.MaxPoints)
}

func TestAllocate_ZeroBudget(t *testing.T) {
	t.Parallel()

	anns := []pose.Annotation{annotation(0, 0, 10, 3, 1)}
	prims := NewAllocator().Allocate(anns, Budget{}, Options{Skeleton: true})
	assert.Empty(t, prims.Points)
	assert.Empty(t, prims.Lines)

	prims = NewAllocator().Allocate(anns, Budget{MaxPoints: 10, MaxLines: -1}, Options{Skeleton: true})
	assert.Len(t, prims.Points, 3)
	assert.Empty(t, prims.Lines)
}

func TestAllocate_SkipsUnmatchedAndDegenerate(t *testing.T) {
	t.Parallel()

	flat := annotation(0, 0, 10, 3, 1)
	flat.Pose.Box.Y2 = flat.Pose.Box.Y1

	anns := []pose.Annotation{
		{Detection: pose.Detection{Rect: pose.Rect{W: 10, H: 10}}, PoseIndex: -1},
		flat,
		annotation(50, 50, 10, 2, 1),
	}
	prims := NewAllocator().Allocate(anns, Budget{MaxPoints: 10, MaxLines: 10}, Options{})
	assert.Len(t, prims.Points, 2)
	assert.Empty(t, prims.Lines, "skeleton off")
}

func TestAllocate_ScoreThreshold(t *testing.T) {
	t.Parallel()

	ann := annotation(0, 0, 100, 4, 0.9)
	ann.Pose.Keypoints[1].Score = 0.1
	ann.Pose.Keypoints[3].Score = 0.2

	prims := NewAllocator().Allocate([]pose.Annotation{ann}, Budget{MaxPoints: 10}, Options{ScoreThreshold: 0.5})
	require.Len(t, prims.Points, 2)
	assert.Equal(t, 0, prims.Points[0].KeypointIndex)
	assert.Equal(t, 2, prims.Points[1].KeypointIndex)
	assert.Equal(t, Palette[2], prims.Points[1].Color)
}

func TestAllocate_MapsIntoDetectionRect(t *testing.T) {
	t.Parallel()

	// Pose box twice the size of the detection, offset; a keypoint outside
	// the pose box is clamped to the rectangle edge.
	e := &pose.Entry{
		Box: pose.Box{X1: 100, Y1: 100, X2: 300, Y2: 300},
		Keypoints: []pose.Keypoint{
			{X: 200, Y: 150, Score: 1},
			{X: 400, Y: 50, Score: 1},
		},
	}
	ann := pose.Annotation{Detection: pose.Detection{Rect: pose.Rect{X: 10, Y: 20, W: 100, H: 100}}, Pose: e}

	prims := NewAllocator().Allocate([]pose.Annotation{ann}, Budget{MaxPoints: 10}, Options{Radius: 6})
	require.Len(t, prims.Points, 2)
	assert.Equal(t, Point{X: 60, Y: 45, Radius: 6, Color: Palette[0], KeypointIndex: 0}, prims.Points[0])
	assert.Equal(t, 110, prims.Points[1].X)
	assert.Equal(t, 20, prims.Points[1].Y)
}

func TestAllocate_SkeletonCompleteGraph(t *testing.T) {
	t.Parallel()

	ann := annotation(0, 0, 100, 4, 1)
	prims := NewAllocator().Allocate([]pose.Annotation{ann}, Budget{MaxPoints: 10, MaxLines: 100}, Options{Skeleton: true})
	require.Len(t, prims.Points, 4)
	assert.Len(t, prims.Lines, 6)
	for _, l := range prims.Lines {
		assert.Equal(t, LineWidth(DefaultRadius), l.Width)
		assert.Equal(t, SkeletonColor, l.Color)
	}

	prims = NewAllocator().Allocate([]pose.Annotation{ann}, Budget{MaxPoints: 10, MaxLines: 4}, Options{Skeleton: true})
	assert.Len(t, prims.Lines, 4)
}

func TestPaletteCycles(t *testing.T) {
	t.Parallel()

	ann := annotation(0, 0, 100, 7, 1)
	prims := NewAllocator().Allocate([]pose.Annotation{ann}, Budget{MaxPoints: 10}, Options{})
	require.Len(t, prims.Points, 7)
	assert.Equal(t, prims.Points[0].Color, prims.Points[5].Color)
	assert.Equal(t, prims.Points[1].Color, prims.Points[6].Color)
}

func TestLineWidth(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 4, LineWidth(8))
	assert.Equal(t, 1, LineWidth(1))
	assert.Equal(t, 1, LineWidth(3))
}
