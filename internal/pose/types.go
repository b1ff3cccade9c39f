// Package pose turns the native pose cache into source-frame pose entries and
// reconciles them with the detector's bounding boxes.
package pose

import "math"

// Keypoint is one decoded keypoint. Score is the model's visibility/confidence
// output and is not clamped.
type Keypoint struct {
	X     float64
	Y     float64
	Score float64
}

// Box is an axis-aligned rectangle in corner form, the layout used by the
// native pose cache rows.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Width returns the box width, never negative.
func (b Box) Width() float64 { return math.Max(0, b.X2-b.X1) }

// Height returns the box height, never negative.
func (b Box) Height() float64 { return math.Max(0, b.Y2-b.Y1) }

// Area returns Width*Height.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Rect is a detector rectangle in (left, top, width, height) form, in source
// frame pixels.
type Rect struct {
	X, Y, W, H float64
}

// Box converts the rectangle to corner form.
func (r Rect) Box() Box {
	return Box{X1: r.X, Y1: r.Y, X2: r.X + r.W, Y2: r.Y + r.H}
}

// Entry is one pose candidate from a decoded batch: a box, a confidence and
// exactly K keypoints, already mapped into source-frame pixels by the Reader.
type Entry struct {
	Box        Box
	Confidence float64
	Keypoints  []Keypoint
}

// Batch is the decoded content of one pose cache sequence. Entries are sorted
// by descending confidence and are shared with the reader's cache: callers
// must treat them as read-only.
type Batch struct {
	Seq           uint64
	KeypointCount int
	Entries       []Entry
}

// Detection is one object reported by the upstream detector for a frame.
type Detection struct {
	Rect       Rect
	Confidence float64
	ClassID    int
	Label      string
	// ObjectID is the tracker id, or UntrackedObjectID.
	ObjectID int64
}

// UntrackedObjectID marks a detection without a stable tracker id.
const UntrackedObjectID int64 = -1

// Annotation is a detection with the pose entry (if any) the matcher
// attached to it.
type Annotation struct {
	Detection Detection
	// Pose is nil when no candidate was eligible.
	Pose *Entry
	// PoseIndex is the index of Pose within the batch, or -1.
	PoseIndex int
}

// Matched reports whether a pose entry was attached.
func (a Annotation) Matched() bool { return a.Pose != nil }
