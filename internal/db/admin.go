package db

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/squeakview/internal/monitoring"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// AttachAdminRoutes mounts tailsql, the backup download and the perf chart
// under /debug/ on mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB.DB, &tailsql.DBOptions{
		Label: "Run registry",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the run registry now", http.HandlerFunc(db.handleBackup))
	debug.Handle("perf", "Perf samples of a run (run_id=, default latest)", http.HandlerFunc(db.handlePerfChart))
	return nil
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(os.TempDir(), name)
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Opsf("[DB] failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.Opsf("[DB] backup stream failed: %v", err)
	}
}

func (db *DB) handlePerfChart(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		runs, err := db.RecentRuns(1)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(runs) == 0 {
			http.Error(w, "no runs recorded", http.StatusNotFound)
			return
		}
		runID = runs[0].ID
	}

	limit := 600
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100000 {
			limit = n
		}
	}

	samples, err := db.PerfSamples(runID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := RenderPerfChart(&buf, runID, samples); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// RenderPerfChart writes an HTML line chart of the samples. Unavailable
// values are left as gaps.
func RenderPerfChart(w io.Writer, runID string, samples []PerfSample) error {
	x := make([]string, 0, len(samples))
	stream := make([]opts.LineData, 0, len(samples))
	infer := make([]opts.LineData, 0, len(samples))
	latency := make([]opts.LineData, 0, len(samples))
	for _, s := range samples {
		x = append(x, s.At.Local().Format("15:04:05"))
		stream = append(stream, lineValue(s.StreamingFPS))
		infer = append(infer, lineValue(s.InferenceFPS))
		latency = append(latency, lineValue(s.LatencyMs))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "squeakview perf", Width: "100%", Height: "640px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Pipeline perf", Subtitle: fmt.Sprintf("run=%s samples=%d", runID, len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "fps / ms"}),
	)
	line.SetXAxis(x).
		AddSeries("streaming_fps", stream).
		AddSeries("inference_fps", infer).
		AddSeries("latency_ms", latency)

	return line.Render(w)
}

func lineValue(p *float64) opts.LineData {
	if p == nil {
		return opts.LineData{Value: "-"}
	}
	return opts.LineData{Value: *p}
}
