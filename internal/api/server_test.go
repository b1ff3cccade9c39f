package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/squeakview/internal/db"
	"github.com/banshee-data/squeakview/internal/metrics"
	"github.com/banshee-data/squeakview/internal/stage"
	"github.com/banshee-data/squeakview/internal/testutil"
	"github.com/banshee-data/squeakview/internal/timeutil"
	"github.com/banshee-data/squeakview/internal/toggles"
)

type fakePerf struct{ snap metrics.Snapshot }

func (f fakePerf) Snapshot(now time.Time) metrics.Snapshot {
	s := f.snap
	s.Timestamp = now
	return s
}

type fakeStage struct{}

func (fakeStage) Stats() stage.Stats { return stage.Stats{Frames: 10, Rows: 25, Keypoints: 17} }
func (fakeStage) PoseMode() bool     { return true }

type fakeToggles struct{ state map[toggles.Name]bool }

func (f *fakeToggles) Enabled(n toggles.Name) bool { return f.state[n] }

func (f *fakeToggles) Set(n toggles.Name, on bool) error {
	if _, ok := f.state[n]; !ok {
		return errors.New("unknown toggle")
	}
	f.state[n] = on
	return nil
}

func newFakeToggles() *fakeToggles {
	return &fakeToggles{state: map[toggles.Name]bool{toggles.Preview: true, toggles.Skeleton: false, toggles.Video: true}}
}

func TestShowPerf(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	srv := NewServer(Options{
		Perf:  fakePerf{metrics.Snapshot{StreamFPS: 29.97, StreamOK: true}},
		Clock: timeutil.NewMockClock(now),
	})
	mux := srv.ServeMux()

	rec := testutil.Serve(t, mux, http.MethodGet, "/api/perf")
	require.Equal(t, http.StatusOK, rec.Code)

	got := testutil.DecodeJSON[metrics.Snapshot](t, rec)
	assert.True(t, got.StreamOK)
	assert.InDelta(t, 29.97, got.StreamFPS, 1e-9)
	assert.True(t, now.Equal(got.Timestamp))

	assert.Equal(t, http.StatusMethodNotAllowed, testutil.Serve(t, mux, http.MethodPost, "/api/perf").Code)
}

func TestShowPerf_NotRunning(t *testing.T) {
	rec := testutil.Serve(t, NewServer(Options{}).ServeMux(), http.MethodGet, "/api/perf")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestShowRun(t *testing.T) {
	registry, err := db.NewDB(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	started := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, registry.StartRun(db.RunRecord{ID: "abc", Dir: "/runs/abc", StartedAt: started, PoseMode: true}))

	srv := NewServer(Options{
		Run:     RunInfo{ID: "abc", Dir: "/runs/abc", StartedAt: started},
		Stage:   fakeStage{},
		Toggles: newFakeToggles(),
		DB:      registry,
	})
	rec := testutil.Serve(t, srv.ServeMux(), http.MethodGet, "/api/run")
	require.Equal(t, http.StatusOK, rec.Code)

	got := testutil.DecodeJSON[runResponse](t, rec)
	assert.Equal(t, "abc", got.ID)
	assert.True(t, got.PoseMode)
	require.NotNil(t, got.Stage)
	assert.Equal(t, uint64(25), got.Stage.Rows)
	assert.Equal(t, map[string]bool{"preview": true, "skeleton": false, "video": true}, got.Toggles)
	require.NotNil(t, got.Registry)
	assert.Equal(t, "/runs/abc", got.Registry.Dir)
}

func TestListRuns(t *testing.T) {
	rec := testutil.Serve(t, NewServer(Options{}).ServeMux(), http.MethodGet, "/api/runs")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	registry, err := db.NewDB(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })
	mux := NewServer(Options{DB: registry}).ServeMux()

	rec = testutil.Serve(t, mux, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, testutil.Serve(t, mux, http.MethodGet, "/api/runs?limit=0").Code)
}

func TestHandleToggles(t *testing.T) {
	tg := newFakeToggles()
	mux := NewServer(Options{Toggles: tg}).ServeMux()

	post := func(form url.Values) *httptest.ResponseRecorder {
		return testutil.ServeForm(t, mux, "/api/toggles", form)
	}

	rec := post(url.Values{"name": {"skeleton"}, "state": {"on"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, tg.state[toggles.Skeleton])
	assert.Contains(t, rec.Body.String(), `"skeleton":true`)

	assert.Equal(t, http.StatusBadRequest, post(url.Values{"name": {"skeleton"}, "state": {"maybe"}}).Code)
	assert.Equal(t, http.StatusBadRequest, post(url.Values{"name": {"bogus"}, "state": {"on"}}).Code)

	assert.Equal(t, http.StatusMethodNotAllowed, testutil.Serve(t, mux, http.MethodDelete, "/api/toggles").Code)
}

func TestServeArtifact(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable,
		testutil.Serve(t, NewServer(Options{}).ServeMux(), http.MethodGet, "/api/artifacts/").Code)

	root := t.TempDir()
	runDir := filepath.Join(root, "run")
	testutil.WriteFile(t, runDir, "detections.csv", "frame,ts_ms\n0,-1\n")
	testutil.WriteFile(t, runDir, ".squeakview_latest", "x")
	testutil.WriteFile(t, runDir, "plots/fps.png", "png")
	testutil.WriteFile(t, root, "secret.txt", "nope")

	srv := NewServer(Options{ArtifactsDir: runDir})
	mux := srv.ServeMux()

	rec := testutil.Serve(t, mux, http.MethodGet, "/api/artifacts/")
	require.Equal(t, http.StatusOK, rec.Code)
	list := testutil.DecodeJSON[[]artifact](t, rec)
	require.Len(t, list, 1, "dirs and dotfiles are hidden")
	assert.Equal(t, "detections.csv", list[0].Name)
	assert.Equal(t, int64(len("frame,ts_ms\n0,-1\n")), list[0].Size)

	rec = testutil.Serve(t, mux, http.MethodGet, "/api/artifacts/detections.csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "frame,ts_ms\n0,-1\n", rec.Body.String())
	assert.Equal(t, "attachment; filename=detections.csv", rec.Header().Get("Content-Disposition"))

	assert.Equal(t, http.StatusOK, testutil.Serve(t, mux, http.MethodGet, "/api/artifacts/plots/fps.png").Code)
	assert.Equal(t, http.StatusNotFound, testutil.Serve(t, mux, http.MethodGet, "/api/artifacts/missing.csv").Code)
	assert.Equal(t, http.StatusNotFound, testutil.Serve(t, mux, http.MethodGet, "/api/artifacts/plots").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, testutil.Serve(t, mux, http.MethodPost, "/api/artifacts/detections.csv").Code)

	// the mux would redirect a dotted path, so hit the handler directly
	req := httptest.NewRequest(http.MethodGet, "/api/artifacts/x", nil)
	req.URL.Path = "/api/artifacts/../secret.txt"
	rec = httptest.NewRecorder()
	srv.serveArtifact(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoggingMiddleware_PassesStatus(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x?y=1", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Contains(t, statusCodeColor(200), colorBoldGreen)
	assert.Contains(t, statusCodeColor(302), colorYellow)
	assert.Contains(t, statusCodeColor(404), colorBoldRed)
	assert.Contains(t, statusCodeColor(503), colorBoldRed)
	assert.Equal(t, "100", statusCodeColor(100))
}

func TestHealth(t *testing.T) {
	h, err := StartHealth("127.0.0.1:0")
	require.NoError(t, err)
	defer h.Stop()

	conn, err := grpc.NewClient(h.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: PipelineService})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
	h.SetServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	h.Stop()
	h.Stop()
}
