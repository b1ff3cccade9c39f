// Package telemetry writes the per-detection CSV log of a run.
package telemetry

import (
	"fmt"
	"slices"
)

// BaseColumns are written for every detection row.
var BaseColumns = []string{
	"frame", "ts_ms", "stream_id", "obj_id", "class_id", "class_label",
	"conf", "x", "y", "w", "h",
}

// Schema describes the keypoint columns appended after BaseColumns.
type Schema struct {
	// Keypoints is K; zero means no keypoint columns.
	Keypoints int
	// Names label the keypoints. They are used only when there are at least
	// Keypoints of them.
	Names []string
}

// NewSchema returns the schema for k keypoints, dropping names when there
// are too few to cover every keypoint.
func NewSchema(k int, names []string) Schema {
	if k < 0 {
		k = 0
	}
	if len(names) < k || k == 0 {
		names = nil
	} else {
		names = slices.Clone(names[:k])
	}
	return Schema{Keypoints: k, Names: names}
}

// Width returns the total number of columns.
func (s Schema) Width() int {
	return len(BaseColumns) + 3*s.Keypoints
}

// Header returns the column names.
func (s Schema) Header() []string {
	h := make([]string, 0, s.Width())
	h = append(h, BaseColumns...)
	for i := 0; i < s.Keypoints; i++ {
		name := fmt.Sprintf("kp%d", i)
		if len(s.Names) >= s.Keypoints {
			name = s.Names[i]
		}
		h = append(h, name+"_x", name+"_y", name+"_conf")
	}
	return h
}

// Equal reports whether s and o produce the same header.
func (s Schema) Equal(o Schema) bool {
	return slices.Equal(s.Header(), o.Header())
}
