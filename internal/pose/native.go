package pose

import "errors"

// ErrLibraryUnavailable is returned when the parser library cannot be loaded
// or does not export the pose cache query.
var ErrLibraryUnavailable = errors.New("pose: parser library unavailable")

// poseCacheSymbol is the exported query in the custom parser library.
const poseCacheSymbol = "NvDsInferGetPoseCache"
