package gstprobe

import (
	"math"
	"time"

	"github.com/banshee-data/squeakview/internal/pose"
)

// framePTS maps GST_CLOCK_TIME_NONE, and anything too large for a
// Duration, to an unknown timestamp.
func framePTS(pts uint64) time.Duration {
	if pts > math.MaxInt64 {
		return -1
	}
	return time.Duration(pts)
}

// objectID maps UNTRACKED_OBJECT_ID to pose.UntrackedObjectID.
func objectID(id uint64) int64 {
	if id > math.MaxInt64 {
		return pose.UntrackedObjectID
	}
	return int64(id)
}
