//go:build !(gst && deepstream)

package gstprobe

// NativeMetadata reports ErrNoMetadata; reading detector output needs the
// gst and deepstream build tags.
func NativeMetadata() (FrameExtractor, OverlaySink, error) {
	return nil, nil, ErrNoMetadata
}
