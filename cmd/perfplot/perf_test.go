package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const perfCSV = `timestamp,streaming_fps,inference_fps,latency_ms
23:59:58,,,
23:59:59,30.0000,,
00:00:00,30.0000,29.0000,10.0000
00:00:01,29.5000,29.0000,20.0000
`

func TestReadPerf_OffsetsAcrossMidnight(t *testing.T) {
	rows, err := readPerf(strings.NewReader(perfCSV))
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, time.Duration(0), rows[0].Offset)
	assert.Equal(t, 2*time.Second, rows[2].Offset)
	assert.Equal(t, 3*time.Second, rows[3].Offset)

	assert.False(t, rows[0].StreamOK)
	assert.True(t, rows[1].StreamOK)
	assert.False(t, rows[1].InferOK)
	assert.Equal(t, 20.0, rows[3].Latency)
}

func TestReadPerf_Errors(t *testing.T) {
	_, err := readPerf(strings.NewReader("a,b,c,d\n"))
	assert.ErrorContains(t, err, "unexpected header")

	_, err = readPerf(strings.NewReader("timestamp,streaming_fps,inference_fps,latency_ms\nnoon,1,2,3\n"))
	assert.Error(t, err)

	_, err = readPerf(strings.NewReader(""))
	assert.Error(t, err)
}

func TestSummarise(t *testing.T) {
	rows, err := readPerf(strings.NewReader(perfCSV))
	require.NoError(t, err)

	s := summarise(rows)
	assert.Equal(t, 4, s.Rows)
	assert.Equal(t, 3*time.Second, s.Duration)
	assert.InDelta(t, 29.8333, s.MeanStream, 1e-4)
	assert.InDelta(t, 29.0, s.MeanInfer, 1e-9)
	assert.InDelta(t, 15.0, s.MeanLatency, 1e-9)
	assert.Equal(t, 2, s.LatencyPoints)
	assert.Equal(t, 20.0, s.P95Latency)

	assert.Equal(t, summary{}, summarise(nil))
}

func TestPlotPerf_WritesPNGs(t *testing.T) {
	rows, err := readPerf(strings.NewReader(perfCSV))
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "plots")
	files, err := plotPerf(rows, "session_test", dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "\x89PNG"), f)
	}
}

func TestPlotPerf_SkipsEmptyCharts(t *testing.T) {
	rows := []perfRow{{Offset: 0, Stream: 30, StreamOK: true}, {Offset: time.Second, Stream: 30, StreamOK: true}}
	files, err := plotPerf(rows, "stream only", t.TempDir())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "fps.png", filepath.Base(files[0]))
}
