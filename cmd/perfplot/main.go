// Command perfplot renders a run's perf_stats.csv as PNG charts.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/squeakview/internal/runctx"
)

var (
	input  = flag.String("in", "", "perf_stats.csv to plot (default: latest run)")
	outDir = flag.String("out", "", "Output directory (default: alongside the input)")
)

func main() {
	flag.Parse()

	path := *input
	if path == "" {
		dir, ok := runctx.NewManager(runctx.RunsDir(), nil, nil).Latest()
		if !ok {
			log.Fatal("no -in given and no latest run found")
		}
		path = runctx.ArtifactsFor(dir).PerfCSV
	}
	dest := *outDir
	if dest == "" {
		dest = filepath.Dir(path)
	}

	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open perf log: %v", err)
	}
	rows, err := readPerf(f)
	f.Close()
	if err != nil {
		log.Fatalf("failed to read %s: %v", path, err)
	}
	if len(rows) == 0 {
		log.Fatalf("%s has no rows", path)
	}

	files, err := plotPerf(rows, filepath.Base(filepath.Dir(path)), dest)
	if err != nil {
		log.Fatalf("failed to plot: %v", err)
	}
	for _, f := range files {
		fmt.Println(f)
	}

	s := summarise(rows)
	log.Printf("rows=%d duration=%s stream=%.2ffps infer=%.2ffps latency mean=%.2fms p95=%.2fms",
		s.Rows, s.Duration, s.MeanStream, s.MeanInfer, s.MeanLatency, s.P95Latency)
}
