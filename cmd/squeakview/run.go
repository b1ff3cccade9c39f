package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/squeakview/internal/api"
	"github.com/banshee-data/squeakview/internal/config"
	"github.com/banshee-data/squeakview/internal/db"
	"github.com/banshee-data/squeakview/internal/gstprobe"
	"github.com/banshee-data/squeakview/internal/inferconfig"
	"github.com/banshee-data/squeakview/internal/metrics"
	"github.com/banshee-data/squeakview/internal/monitoring"
	"github.com/banshee-data/squeakview/internal/overlay"
	"github.com/banshee-data/squeakview/internal/pose"
	"github.com/banshee-data/squeakview/internal/runctx"
	"github.com/banshee-data/squeakview/internal/serialmux"
	"github.com/banshee-data/squeakview/internal/stage"
	"github.com/banshee-data/squeakview/internal/telemetry"
	"github.com/banshee-data/squeakview/internal/timeutil"
	"github.com/banshee-data/squeakview/internal/toggles"
	"github.com/banshee-data/squeakview/internal/version"
)

// Network input size assumed when the inference config has no infer-dims.
const defaultNetSize = 640

// Options is everything Run needs. main fills it from flags.
type Options struct {
	InferConfig  string
	Launch       string
	RunsDir      string
	OutDir       string
	Prefix       string
	TuningPath   string
	Listen       string
	HealthListen string
	SerialPort   string
	SerialBaud   int
	WaitTTL      time.Duration
	ReplayPath   string
	Inference    bool
	Preview      bool
	Trace        bool

	// SerialOpener replaces go.bug.st/serial when set.
	SerialOpener serialmux.PortOpener
}

// Validate checks flag combinations.
func (o Options) Validate() error {
	if o.ReplayPath == "" && o.Launch == "" {
		return errors.New("one of -pipeline or -replay is required")
	}
	if o.ReplayPath != "" && o.Launch != "" {
		return errors.New("-pipeline and -replay are mutually exclusive")
	}
	if o.OutDir == "" && o.RunsDir == "" {
		return errors.New("-runs-dir must not be empty")
	}
	if o.WaitTTL > 0 && o.SerialPort == "" {
		return errors.New("-wait-ttl needs -serial-port")
	}
	return nil
}

// Result summarises a finished run.
type Result struct {
	RunID     string
	Dir       string
	PoseMode  bool
	Frames    int64
	Rows      int64
	Keypoints int
	Replay    ReplayStats
}

// Run executes one session and returns when the stream ends, ctx is done or
// setup fails. Output files are flushed and closed before it returns.
func Run(ctx context.Context, o Options) (res Result, err error) {
	tuning := config.EmptyTuningConfig()
	if o.TuningPath != "" {
		if tuning, err = config.LoadTuningConfig(o.TuningPath); err != nil {
			return res, err
		}
	}

	mgr := runctx.NewManager(o.RunsDir, nil, nil)
	var run *runctx.Run
	if o.OutDir != "" {
		run, err = mgr.UseDir(o.OutDir)
	} else {
		run, err = mgr.NewRun(o.Prefix)
	}
	if err != nil {
		return res, err
	}
	res.RunID, res.Dir = run.ID.String(), run.Dir

	logFile := monitoring.Tee(run.Dir, o.Trace)
	defer func() {
		monitoring.SetLogWriters(monitoring.LogWriters{Ops: os.Stderr, Diag: os.Stderr})
		logFile.Close()
	}()
	monitoring.Opsf("[INFO] run %s in %s", res.RunID, run.Dir)

	infer, err := inferconfig.Load(nil, o.InferConfig)
	if err != nil {
		return res, err
	}
	res.PoseMode = o.Inference && infer.PoseMode()
	monitoring.Opsf("[INFO] inference=%t pose_mode=%t parser=%q", o.Inference, res.PoseMode, infer.Parser())

	var clock timeutil.Clock = timeutil.RealClock{}
	var replayer *Replayer
	var extractor gstprobe.FrameExtractor
	var overlaySink gstprobe.OverlaySink
	switch {
	case o.ReplayPath != "":
		mc := timeutil.NewMockClock(run.StartedAt)
		clock, replayer = mc, NewReplayer(mc)
		extractor = replayer
	case o.Inference:
		extractor, overlaySink, err = gstprobe.NativeMetadata()
		if err != nil {
			return res, fmt.Errorf("detector metadata: %w", err)
		}
	}

	registry, err := db.NewDB(run.Artifacts.Database)
	if err != nil {
		return res, fmt.Errorf("open run registry: %w", err)
	}
	defer registry.Close()
	if err := registry.StartRun(db.RunRecord{
		ID:        res.RunID,
		Dir:       run.Dir,
		StartedAt: run.StartedAt,
		PoseMode:  res.PoseMode,
	}); err != nil {
		return res, err
	}

	poller := toggles.NewPoller(toggles.Config{
		Dir:             run.Dir,
		Interval:        tuning.GetTogglePollInterval(),
		Skeleton:        tuning.GetDrawSkeleton(),
		PreviewAttached: o.Preview,
	})
	if err := poller.WriteInitial(); err != nil {
		return res, fmt.Errorf("write toggle files: %w", err)
	}

	perf := metrics.NewPerf(metrics.TimerConfig{
		Horizon:       tuning.GetPerfWindow(),
		MaxPendingAge: tuning.GetPendingStartMaxAge(),
		MaxPending:    tuning.GetMaxPendingStarts(),
	}, o.Inference)
	perfLog, err := metrics.CreatePerfLog(run.Artifacts.PerfCSV)
	if err != nil {
		return res, err
	}

	var stg *stage.Stage
	if o.Inference {
		var q pose.Querier
		if replayer != nil {
			q = replayer
		}
		stg, err = buildStage(tuning, infer, res.PoseMode, q, run.Artifacts.DetectionsCSV, poller)
		if err != nil {
			perfLog.Close()
			return res, err
		}
		stg.AddCloser(perfLog)
	}
	stopStage := func() error {
		if stg == nil {
			return perfLog.Close()
		}
		return stg.Stop()
	}
	defer stopStage()

	hooks, err := gstprobe.NewHooks(gstprobe.HooksConfig{
		Perf:      perf,
		PerfLog:   perfLog,
		Stage:     stg,
		Extractor: extractor,
		Overlay:   overlaySink,
		Clock:     clock,
	})
	if err != nil {
		return res, err
	}

	if _, err := mgr.WriteMetadata(run, metadata(o, run, tuning, infer, res.PoseMode)); err != nil {
		monitoring.Opsf("[WARN] %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(runCtx)
	}()

	var serialMux *serialmux.SerialMux[serialPort]
	if o.SerialPort != "" {
		m, rec, err := startSerial(runCtx, &wg, o, run.Artifacts.SerialCSV, clock)
		if err != nil {
			return res, err
		}
		serialMux = m
		defer rec.Close()
		defer m.Close()
		if err := rec.Marker("START", clock.Now()); err != nil {
			monitoring.Opsf("[SER] %v", err)
		}
		if o.WaitTTL > 0 {
			rec.WaitForTTL(runCtx, o.WaitTTL)
		}
		defer func() {
			if err := rec.Marker("STOP", clock.Now()); err != nil {
				monitoring.Opsf("[SER] %v", err)
			}
		}()
	}

	if o.Listen != "" {
		apiOpts := api.Options{
			Run:          api.RunInfo{ID: res.RunID, Dir: run.Dir, StartedAt: run.StartedAt},
			Perf:         perf,
			Toggles:      poller,
			DB:           registry,
			Clock:        clock,
			ArtifactsDir: run.Dir,
		}
		if stg != nil {
			apiOpts.Stage = stg
		}
		mux := api.NewServer(apiOpts).ServeMux()
		if err := registry.AttachAdminRoutes(mux); err != nil {
			return res, err
		}
		if serialMux != nil {
			serialMux.AttachAdminRoutes(mux)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(runCtx, o.Listen, api.LoggingMiddleware(mux))
		}()
	}

	var health *api.Health
	if o.HealthListen != "" {
		if health, err = api.StartHealth(o.HealthListen); err != nil {
			return res, err
		}
		defer health.Stop()
	}

	counts := func() {
		if stg == nil {
			return
		}
		st := stg.Stats()
		if err := registry.UpdateRunCounts(res.RunID, st.Keypoints, int64(st.Frames), int64(st.Rows)); err != nil {
			monitoring.Diagf("[DB] update run counts: %v", err)
		}
	}
	sample := func() {
		hooks.Sweep()
		if err := registry.RecordPerfSample(db.SampleFromSnapshot(res.RunID, perf.Snapshot(clock.Now()))); err != nil {
			monitoring.Diagf("[DB] record perf sample: %v", err)
		}
		counts()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runSampler(runCtx, clock, tuning.GetPerfSampleInterval(), sample)
	}()

	if health != nil {
		health.SetServing(true)
	}
	var driveErr error
	if replayer != nil {
		replayer.Attach(hooks)
		res.Replay, driveErr = replayFile(runCtx, replayer, o.ReplayPath)
	} else {
		driveErr = runPipeline(runCtx, o, hooks, poller, clock)
	}
	if health != nil {
		health.SetServing(false)
	}

	cancel()
	wg.Wait()

	sample()
	stopErr := stopStage()
	counts()
	if err := registry.StopRun(res.RunID, clock.Now()); err != nil {
		monitoring.Opsf("[DB] stop run: %v", err)
	}
	if stg != nil {
		st := stg.Stats()
		res.Frames, res.Rows, res.Keypoints = int64(st.Frames), int64(st.Rows), st.Keypoints
	}

	if errors.Is(driveErr, context.Canceled) && ctx.Err() != nil {
		driveErr = nil
	}
	return res, errors.Join(driveErr, stopErr)
}

// runSampler calls sample on every tick of clock until ctx is done. In
// replay the clock follows the recording, so samples land on recorded time.
func runSampler(ctx context.Context, clock timeutil.Clock, every time.Duration, sample func()) {
	ticker := clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			sample()
		}
	}
}

// buildStage wires the pose reader (in pose mode), matcher, allocator and
// telemetry log. A nil querier opens the parser library named by the
// inference config.
func buildStage(tuning *config.TuningConfig, infer *inferconfig.Config, poseMode bool, q pose.Querier, csvPath string, tg stage.ToggleSource) (*stage.Stage, error) {
	labels := infer.KeypointLabels()
	cfg := stage.Config{
		Matcher:       pose.NewMatcher(pose.GatedMatchPolicy(tuning.GetMatchMinIoU())),
		Allocator:     overlay.NewAllocator(),
		Log:           telemetry.NewLog(csvPath, telemetry.NewSchema(0, labels), telemetry.Options{FlushEvery: tuning.GetFlushEvery()}),
		KeypointNames: labels,
		Budget:        overlay.Budget{MaxPoints: tuning.GetMaxPoints(), MaxLines: tuning.GetMaxLines()},
		Overlay: overlay.Options{
			ScoreThreshold: infer.DrawThreshold(),
			Skeleton:       tuning.GetDrawSkeleton(),
			Radius:         tuning.GetDrawRadius(),
		},
		Toggles:       tg,
		DefaultWidth:  tuning.GetFrameWidth(),
		DefaultHeight: tuning.GetFrameHeight(),
	}

	var native *pose.NativeQuerier
	if poseMode {
		if q == nil {
			lib := infer.CustomLibPath()
			n, err := pose.OpenNative(lib)
			if err != nil {
				return nil, fmt.Errorf("open pose parser %q: %w", lib, err)
			}
			native, q = n, n
			monitoring.Opsf("[POSE] pose cache from %s", lib)
		}
		netW, netH := infer.NetDims(defaultNetSize, defaultNetSize)
		cfg.Reader = pose.NewReader(q, pose.ReaderConfig{
			NetW:     netW,
			NetH:     netH,
			DefaultW: float64(tuning.GetFrameWidth()),
			DefaultH: float64(tuning.GetFrameHeight()),
		})
	}

	stg, err := stage.New(cfg)
	if err != nil {
		if native != nil {
			native.Close()
		}
		return nil, err
	}
	if native != nil {
		stg.AddCloser(native)
	}
	if err := cfg.Log.Open(); err != nil {
		stg.Stop()
		return nil, err
	}
	return stg, nil
}

func metadata(o Options, run *runctx.Run, tuning *config.TuningConfig, infer *inferconfig.Config, poseMode bool) map[string]any {
	md := map[string]any{
		"run_id":       run.ID.String(),
		"version":      version.String(),
		"started_at":   run.StartedAt.Format(time.RFC3339Nano),
		"artifacts":    run.Artifacts,
		"infer_config": o.InferConfig,
		"parser":       infer.Parser(),
		"inference":    o.Inference,
		"pose_mode":    poseMode,
		"preview":      o.Preview,
		"tuning":       tuning,
	}
	if o.Launch != "" {
		md["pipeline"] = o.Launch
	}
	if o.ReplayPath != "" {
		md["replay"] = o.ReplayPath
	}
	if o.SerialPort != "" {
		md["serial_port"] = o.SerialPort
		md["serial_baud"] = o.SerialBaud
	}
	return md
}

func replayFile(ctx context.Context, r *Replayer, path string) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()
	return r.Run(ctx, f)
}

func runPipeline(ctx context.Context, o Options, hooks *gstprobe.Hooks, poller *toggles.Poller, clock timeutil.Clock) error {
	p, err := gstprobe.Build(o.Launch, hooks, gstprobe.Options{
		Inference: o.Inference,
		Preview:   poller.Enabled(toggles.Preview),
		Video:     poller.Enabled(toggles.Video),
		Clock:     clock,
	})
	if err != nil {
		return err
	}
	poller.OnChange(p.ApplyToggle)
	return p.Run(ctx)
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) {
	server := &http.Server{Addr: addr, Handler: h}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Opsf("[ERROR] HTTP server: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Diagf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Diagf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Diagf("HTTP server force close error: %v", err)
		}
	}
}
