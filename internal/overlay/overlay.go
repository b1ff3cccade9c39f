// Package overlay turns matched pose annotations into bounded lists of
// drawing primitives for the on-screen display.
package overlay

import (
	"image/color"
	"math"

	"github.com/banshee-data/squeakview/internal/pose"
)

// minPoseExtent is the smallest pose box side that can be normalised against.
const minPoseExtent = 1e-6

// DefaultRadius is the keypoint circle radius when Options.Radius is unset.
const DefaultRadius = 8

// Palette cycles by keypoint index so neighbouring joints stay distinguishable.
var Palette = [...]color.RGBA{
	{R: 255, G: 51, B: 51, A: 255},
	{R: 51, G: 204, B: 255, A: 255},
	{R: 230, G: 179, B: 51, A: 255},
	{R: 153, G: 102, B: 255, A: 255},
	{R: 51, G: 255, B: 102, A: 255},
}

// SkeletonColor is the colour of every skeleton line.
var SkeletonColor = color.RGBA{R: 26, G: 230, B: 230, A: 255}

// Point is a keypoint circle in integer frame pixels.
type Point struct {
	X, Y          int
	Radius        int
	Color         color.RGBA
	KeypointIndex int
}

// Line is a skeleton segment in integer frame pixels.
type Line struct {
	X1, Y1, X2, Y2 int
	Width          int
	Color          color.RGBA
}

// Primitives is everything emitted for one frame.
type Primitives struct {
	Points []Point
	Lines  []Line
}

// Budget is the per-frame capacity of the rendering surface.
type Budget struct {
	MaxPoints int
	MaxLines  int
}

// Options control what is drawn.
type Options struct {
	// ScoreThreshold hides keypoints scoring below it.
	ScoreThreshold float64
	// Skeleton connects every pair of drawn keypoints of an annotation.
	Skeleton bool
	// Radius of keypoint circles; non-positive means DefaultRadius.
	Radius int
}

// LineWidth is the skeleton line width for a circle radius.
func LineWidth(radius int) int {
	if w := radius / 2; w > 1 {
		return w
	}
	return 1
}

// Allocator emits primitives in annotation order until a budget runs out.
type Allocator struct{}

// NewAllocator returns an Allocator.
func NewAllocator() *Allocator { return &Allocator{} }

// Allocate maps every keypoint of every matched annotation into its
// detection rectangle. Emission stops as soon as the point budget is
// exhausted; nothing later in the frame is drawn, and no earlier primitive
// is displaced. Lines stop independently when the line budget runs out.
func (a *Allocator) Allocate(anns []pose.Annotation, budget Budget, opts Options) Primitives {
	var out Primitives
	if budget.MaxPoints <= 0 {
		return out
	}
	radius := opts.Radius
	if radius <= 0 {
		radius = DefaultRadius
	}
	lineWidth := LineWidth(radius)

	for _, ann := range anns {
		if ann.Pose == nil {
			continue
		}
		pb := ann.Pose.Box
		pw, ph := pb.X2-pb.X1, pb.Y2-pb.Y1
		if pw <= minPoseExtent || ph <= minPoseExtent {
			continue
		}
		rect := ann.Detection.Rect

		start := len(out.Points)
		for idx, kp := range ann.Pose.Keypoints {
			if kp.Score < opts.ScoreThreshold {
				continue
			}
			if len(out.Points) >= budget.MaxPoints {
				break
			}
			nx := clamp01((kp.X - pb.X1) / pw)
			ny := clamp01((kp.Y - pb.Y1) / ph)
			out.Points = append(out.Points, Point{
				X:             int(math.Round(rect.X + nx*rect.W)),
				Y:             int(math.Round(rect.Y + ny*rect.H)),
				Radius:        radius,
				Color:         Palette[idx%len(Palette)],
				KeypointIndex: idx,
			})
		}
		if len(out.Points) >= budget.MaxPoints {
			break
		}
		if opts.Skeleton {
			out.Lines = appendSkeleton(out.Lines, out.Points[start:], budget.MaxLines, lineWidth)
		}
	}
	return out
}

// appendSkeleton joins every pair of pts, stopping at maxLines total lines.
func appendSkeleton(lines []Line, pts []Point, maxLines, width int) []Line {
	if len(pts) < 2 {
		return lines
	}
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			if len(lines) >= maxLines {
				return lines
			}
			lines = append(lines, Line{
				X1:    pts[i].X,
				Y1:    pts[i].Y,
				X2:    pts[j].X,
				Y2:    pts[j].Y,
				Width: width,
				Color: SkeletonColor,
			})
		}
	}
	return lines
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
