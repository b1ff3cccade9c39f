//go:build cgo && linux

package pose

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

typedef uint64_t (*pose_cache_fn)(float**, int*, int*);

static uint64_t call_pose_cache(void *fn, float **data, int *count, int *kpts) {
	return ((pose_cache_fn)fn)(data, count, kpts);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// NativeQuerier calls the pose cache export of a dlopen'd parser library.
type NativeQuerier struct {
	mu     sync.Mutex
	handle unsafe.Pointer
	fn     unsafe.Pointer
	path   string
}

// OpenNative loads the parser library at path and resolves the pose cache
// query.
func OpenNative(path string) (*NativeQuerier, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	handle := C.dlopen(cpath, C.RTLD_NOW|C.RTLD_GLOBAL)
	if handle == nil {
		return nil, fmt.Errorf("%w: dlopen %s: %s", ErrLibraryUnavailable, path, C.GoString(C.dlerror()))
	}

	csym := C.CString(poseCacheSymbol)
	defer C.free(unsafe.Pointer(csym))
	fn := C.dlsym(handle, csym)
	if fn == nil {
		C.dlclose(handle)
		return nil, fmt.Errorf("%w: %s has no %s", ErrLibraryUnavailable, path, poseCacheSymbol)
	}
	return &NativeQuerier{handle: handle, fn: fn, path: path}, nil
}

// Query copies the current cache payload into Go memory. The native pointer
// is only valid until the parser's next write, so it never leaves this call.
func (n *NativeQuerier) Query() ([]float32, int, uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fn == nil {
		return nil, 0, 0
	}

	var (
		data  *C.float
		count C.int
		kpts  C.int
	)
	seq := uint64(C.call_pose_cache(n.fn, &data, &count, &kpts))
	if data == nil || count <= 0 {
		return nil, int(kpts), seq
	}
	src := unsafe.Slice((*float32)(unsafe.Pointer(data)), int(count))
	out := make([]float32, len(src))
	copy(out, src)
	return out, int(kpts), seq
}

// Path returns the library path.
func (n *NativeQuerier) Path() string { return n.path }

// Close unloads the library. Further queries return an empty payload.
func (n *NativeQuerier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.handle == nil {
		return nil
	}
	C.dlclose(n.handle)
	n.handle, n.fn = nil, nil
	return nil
}
