//go:build !cgo || !linux

package pose

import "fmt"

// NativeQuerier is unavailable without cgo on linux.
type NativeQuerier struct{}

// OpenNative always fails on this platform.
func OpenNative(path string) (*NativeQuerier, error) {
	return nil, fmt.Errorf("%w: %s: native loading requires cgo on linux", ErrLibraryUnavailable, path)
}

// Query returns an empty payload.
func (n *NativeQuerier) Query() ([]float32, int, uint64) { return nil, 0, 0 }

// Path returns "".
func (n *NativeQuerier) Path() string { return "" }

// Close is a no-op.
func (n *NativeQuerier) Close() error { return nil }
