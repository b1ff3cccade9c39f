package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/squeakview/internal/metrics"
)

// perfRow is one parsed perf_stats.csv row. Empty fields are not values:
// the ok flags say which are present.
type perfRow struct {
	Offset    time.Duration
	Stream    float64
	StreamOK  bool
	Infer     float64
	InferOK   bool
	Latency   float64
	LatencyOK bool
}

// readPerf parses a perf CSV. Offsets are relative to the first row; the
// timestamps carry no date, so a backwards step is taken as midnight.
func readPerf(r io.Reader) ([]perfRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(metrics.PerfHeader)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !slices.Equal(header, metrics.PerfHeader) {
		return nil, fmt.Errorf("unexpected header %v", header)
	}

	var (
		rows  []perfRow
		first time.Time
		prev  time.Duration
		wraps time.Duration
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		ts, err := time.Parse("15:04:05", rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", len(rows)+2, err)
		}
		if len(rows) == 0 {
			first = ts
		}
		off := ts.Sub(first) + wraps
		if off < prev {
			wraps += 24 * time.Hour
			off += 24 * time.Hour
		}
		prev = off

		row := perfRow{Offset: off}
		row.Stream, row.StreamOK = parseRate(rec[1])
		row.Infer, row.InferOK = parseRate(rec[2])
		row.Latency, row.LatencyOK = parseRate(rec[3])
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRate(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// summary is printed after plotting.
type summary struct {
	Rows          int
	Duration      time.Duration
	MeanStream    float64
	MeanInfer     float64
	MeanLatency   float64
	P95Latency    float64
	LatencyPoints int
}

func summarise(rows []perfRow) summary {
	s := summary{Rows: len(rows)}
	if len(rows) == 0 {
		return s
	}
	s.Duration = rows[len(rows)-1].Offset
	var stream, infer, latency []float64
	for _, r := range rows {
		if r.StreamOK {
			stream = append(stream, r.Stream)
		}
		if r.InferOK {
			infer = append(infer, r.Infer)
		}
		if r.LatencyOK {
			latency = append(latency, r.Latency)
		}
	}
	if len(stream) > 0 {
		s.MeanStream = stat.Mean(stream, nil)
	}
	if len(infer) > 0 {
		s.MeanInfer = stat.Mean(infer, nil)
	}
	if len(latency) > 0 {
		s.LatencyPoints = len(latency)
		s.MeanLatency = stat.Mean(latency, nil)
		slices.Sort(latency)
		s.P95Latency = stat.Quantile(0.95, stat.Empirical, latency, nil)
	}
	return s
}

var (
	streamColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	inferColor   = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	latencyColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

type series struct {
	label string
	color color.Color
	pick  func(perfRow) (float64, bool)
}

// plotPerf writes fps.png and latency.png into outDir and returns their
// paths. A series with no values is left out.
func plotPerf(rows []perfRow, title, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	charts := []struct {
		file   string
		ylabel string
		series []series
	}{
		{"fps.png", "Frames per second", []series{
			{"streaming", streamColor, func(r perfRow) (float64, bool) { return r.Stream, r.StreamOK }},
			{"inference", inferColor, func(r perfRow) (float64, bool) { return r.Infer, r.InferOK }},
		}},
		{"latency.png", "Latency (ms)", []series{
			{"inference latency", latencyColor, func(r perfRow) (float64, bool) { return r.Latency, r.LatencyOK }},
		}},
	}

	var out []string
	for _, c := range charts {
		p := plot.New()
		p.Title.Text = title
		p.X.Label.Text = "Time (s)"
		p.Y.Label.Text = c.ylabel

		drawn := 0
		for _, s := range c.series {
			pts := make(plotter.XYs, 0, len(rows))
			for _, r := range rows {
				if v, ok := s.pick(r); ok {
					pts = append(pts, plotter.XY{X: r.Offset.Seconds(), Y: v})
				}
			}
			if len(pts) == 0 {
				continue
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return out, err
			}
			line.Color = s.color
			line.Width = vg.Points(1)
			p.Add(line)
			p.Legend.Add(s.label, line)
			drawn++
		}
		if drawn == 0 {
			continue
		}
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10

		path := filepath.Join(outDir, c.file)
		if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
			return out, fmt.Errorf("save %s: %w", path, err)
		}
		out = append(out, path)
	}
	return out, nil
}
