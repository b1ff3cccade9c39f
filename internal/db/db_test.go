package db

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/squeakview/internal/metrics"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_MigratesToLatest(t *testing.T) {
	db := newTestDB(t)

	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, latest, version)

	// A second migrate is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestMigrateDown_DropsPerfSamples(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.MigrateDown())

	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'perf_samples'`).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, db.MigrateUp())
}

func TestRunLifecycle(t *testing.T) {
	db := newTestDB(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.StartRun(RunRecord{ID: "r1", Dir: "/runs/a", StartedAt: started, PoseMode: true}))
	require.NoError(t, db.UpdateRunCounts("r1", 17, 120, 340))

	r, err := db.GetRun("r1")
	require.NoError(t, err)
	assert.Equal(t, "/runs/a", r.Dir)
	assert.True(t, r.PoseMode)
	assert.Equal(t, 17, r.Keypoints)
	assert.Equal(t, int64(120), r.Frames)
	assert.Equal(t, int64(340), r.Rows)
	assert.WithinDuration(t, started, r.StartedAt, time.Millisecond)
	assert.Nil(t, r.StoppedAt)

	stop := started.Add(time.Minute)
	require.NoError(t, db.StopRun("r1", stop))
	require.NoError(t, db.StopRun("r1", stop.Add(time.Hour)))

	r, err = db.GetRun("r1")
	require.NoError(t, err)
	require.NotNil(t, r.StoppedAt)
	assert.WithinDuration(t, stop, *r.StoppedAt, time.Millisecond)
}

func TestRunNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, db.UpdateRunCounts("missing", 0, 1, 1), ErrRunNotFound)
	assert.ErrorIs(t, db.StopRun("missing", time.Now()), ErrRunNotFound)
}

func TestRecentRuns_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	base := time.Unix(1_700_000_000, 0)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.StartRun(RunRecord{ID: id, Dir: id, StartedAt: base.Add(time.Duration(i) * time.Second)}))
	}

	runs, err := db.RecentRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestPerfSamples_KeepsGapsAndOrder(t *testing.T) {
	db := newTestDB(t)
	base := time.Unix(1_700_000_000, 0)
	require.NoError(t, db.StartRun(RunRecord{ID: "r", Dir: "r", StartedAt: base}))

	for i := 0; i < 5; i++ {
		snap := metrics.Snapshot{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			StreamFPS: 30, StreamOK: true,
			InferFPS: 10, InferOK: i > 0,
			LatencyMs: 12.5, LatencyOK: i > 0,
		}
		require.NoError(t, db.RecordPerfSample(SampleFromSnapshot("r", snap)))
	}

	samples, err := db.PerfSamples("r", 3)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	for i, s := range samples {
		assert.WithinDuration(t, base.Add(time.Duration(i+2)*time.Second), s.At, time.Millisecond)
		require.NotNil(t, s.StreamingFPS)
		assert.InDelta(t, 30, *s.StreamingFPS, 1e-9)
	}

	all, err := db.PerfSamples("r", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Nil(t, all[0].InferenceFPS)
	assert.Nil(t, all[0].LatencyMs)
	require.NotNil(t, all[1].LatencyMs)
	assert.InDelta(t, 12.5, *all[1].LatencyMs, 1e-9)
}

func TestPerfSamples_RequireKnownRun(t *testing.T) {
	db := newTestDB(t)
	err := db.RecordPerfSample(PerfSample{RunID: "ghost", At: time.Now()})
	assert.Error(t, err)
}

func TestRenderPerfChart(t *testing.T) {
	v := 25.0
	samples := []PerfSample{
		{At: time.Unix(0, 0), StreamingFPS: &v},
		{At: time.Unix(1, 0)},
	}
	var buf bytes.Buffer
	require.NoError(t, RenderPerfChart(&buf, "r-1", samples))
	assert.Contains(t, buf.String(), "streaming_fps")
	assert.Contains(t, buf.String(), "r-1")
}

func TestHandlePerfChart(t *testing.T) {
	db := newTestDB(t)

	rec := httptest.NewRecorder()
	db.handlePerfChart(rec, httptest.NewRequest(http.MethodGet, "/debug/perf", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, db.StartRun(RunRecord{ID: "latest", Dir: "d", StartedAt: time.Now()}))
	rec = httptest.NewRecorder()
	db.handlePerfChart(rec, httptest.NewRequest(http.MethodGet, "/debug/perf?limit=10", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "latest")
}
