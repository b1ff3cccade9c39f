package pose

import "math"

const (
	// iouEpsilon keeps the IoU denominator positive for degenerate boxes.
	iouEpsilon = 1e-6
	// confPenalty weights the confidence disagreement against IoU.
	confPenalty = 0.001
)

// MatchPolicy controls which pose candidates a detection may take.
type MatchPolicy struct {
	// MinIoU is the exclusive lower bound on IoU for a candidate to be
	// eligible. Zero admits any positive overlap.
	MinIoU float64
}

// DefaultMatchPolicy is the ungated policy: any overlap may win.
func DefaultMatchPolicy() MatchPolicy {
	return MatchPolicy{MinIoU: 0}
}

// GatedMatchPolicy requires IoU strictly greater than minIoU.
func GatedMatchPolicy(minIoU float64) MatchPolicy {
	return MatchPolicy{MinIoU: minIoU}
}

// IoU returns the intersection over union of a and b.
func IoU(a, b Box) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)
	iw := math.Max(0, ix2-ix1)
	ih := math.Max(0, iy2-iy1)
	inter := iw * ih
	return inter / (a.Area() + b.Area() - inter + iouEpsilon)
}

// Matcher attaches at most one pose entry to each detection.
type Matcher struct {
	Policy MatchPolicy
}

// NewMatcher returns a Matcher using policy.
func NewMatcher(policy MatchPolicy) *Matcher {
	return &Matcher{Policy: policy}
}

// Match greedily pairs detections with entries in detection order. Each
// detection takes the unused eligible entry with the highest
// IoU - 0.001*|Δconf|; on equal scores the earlier entry wins. The result has
// one Annotation per detection, in input order, and no entry appears twice.
func (m *Matcher) Match(dets []Detection, entries []Entry) []Annotation {
	out := make([]Annotation, len(dets))
	used := make([]bool, len(entries))

	for i, det := range dets {
		out[i] = Annotation{Detection: det, PoseIndex: -1}
		db := det.Rect.Box()

		best := -1
		bestScore := math.Inf(-1)
		for j := range entries {
			if used[j] {
				continue
			}
			iou := IoU(db, entries[j].Box)
			if !(iou > m.Policy.MinIoU) {
				continue
			}
			score := iou - confPenalty*math.Abs(det.Confidence-entries[j].Confidence)
			if score > bestScore {
				best, bestScore = j, score
			}
		}
		if best < 0 {
			continue
		}
		used[best] = true
		out[i].Pose = &entries[best]
		out[i].PoseIndex = best
	}
	return out
}
