package gstprobe

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/squeakview/internal/pose"
)

func TestFramePTS(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, framePTS(uint64(1500*time.Millisecond)))
	assert.Equal(t, time.Duration(0), framePTS(0))
	assert.Equal(t, time.Duration(-1), framePTS(math.MaxUint64))
}

func TestObjectID(t *testing.T) {
	assert.Equal(t, int64(42), objectID(42))
	assert.Equal(t, pose.UntrackedObjectID, objectID(math.MaxUint64))
}

func TestNativeMetadata(t *testing.T) {
	ex, sink, err := NativeMetadata()
	if errors.Is(err, ErrNoMetadata) {
		assert.Nil(t, ex)
		assert.Nil(t, sink)
		return
	}
	assert.NoError(t, err)
	assert.NotNil(t, ex)
	assert.NotNil(t, sink)

	_, err = ex.Frames(BufferInfo{})
	assert.Error(t, err, "a buffer without batch meta is an error, not an empty frame")
}
