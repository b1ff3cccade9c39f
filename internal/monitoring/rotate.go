package monitoring

import (
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DaemonLogName is the file name of the rotating daemon log inside a run
// directory.
const DaemonLogName = "squeakview.log"

// NewRotatingWriter returns a size-rotated log file in dir. The caller owns
// the returned closer.
func NewRotatingWriter(dir string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, DaemonLogName),
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		Compress:   true,
	}
}

// Tee wires the standard logger and the ops/diag streams to both stderr and
// the rotating file in dir. It returns the file writer so main can close it
// on shutdown.
func Tee(dir string, trace bool) io.WriteCloser {
	file := NewRotatingWriter(dir)
	w := io.MultiWriter(os.Stderr, file)
	var traceW io.Writer
	if trace {
		traceW = w
	}
	SetLogWriters(LogWriters{Ops: w, Diag: w, Trace: traceW})
	return file
}
