// Command squeakview runs the pose telemetry pipeline for one recording
// session: it creates the run directory, attaches the annotation stage to
// the GStreamer graph (or to a replay file), and serves the operator API
// until the stream ends or a signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/squeakview/internal/runctx"
	"github.com/banshee-data/squeakview/internal/serialmux"
	"github.com/banshee-data/squeakview/internal/version"
)

var (
	inferConfig  = flag.String("infer-config", "config/config_infer_pose.txt", "nvinfer config file (key=value)")
	launch       = flag.String("pipeline", "", "gst-launch style pipeline description")
	runsDir      = flag.String("runs-dir", runctx.RunsDir(), "Root directory for run folders")
	outDir       = flag.String("out-dir", "", "Write into this directory instead of a new run folder")
	prefix       = flag.String("prefix", "session", "Run folder name prefix")
	tuningPath   = flag.String("tuning", "", "Tuning JSON file (empty uses built-in defaults)")
	listen       = flag.String("listen", ":8080", "HTTP listen address (empty disables)")
	healthListen = flag.String("health-listen", "", "gRPC health listen address (empty disables)")
	serialPort   = flag.String("serial-port", "", "Behaviour controller serial port (empty disables)")
	serialBaud   = flag.Int("serial-baud", serialmux.DefaultBaudRate, "Serial baud rate")
	waitTTL      = flag.Duration("wait-ttl", 0, "Wait this long for the camera TTL line before starting (0 disables)")
	replayPath   = flag.String("replay", "", "Drive the stage from a recorded frames.jsonl instead of GStreamer")
	noInference  = flag.Bool("no-inference", false, "Run without the inference and OSD probes")
	preview      = flag.Bool("preview", false, "A preview window is attached")
	trace        = flag.Bool("trace", false, "Enable trace logging")
	listPorts    = flag.Bool("list-ports", false, "List serial ports and exit")
	showVersion  = flag.Bool("version", false, "Print the version and exit")
)

func optionsFromFlags() Options {
	return Options{
		InferConfig:  *inferConfig,
		Launch:       *launch,
		RunsDir:      *runsDir,
		OutDir:       *outDir,
		Prefix:       *prefix,
		TuningPath:   *tuningPath,
		Listen:       *listen,
		HealthListen: *healthListen,
		SerialPort:   *serialPort,
		SerialBaud:   *serialBaud,
		WaitTTL:      *waitTTL,
		ReplayPath:   *replayPath,
		Inference:    !*noInference,
		Preview:      *preview,
		Trace:        *trace,
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("squeakview", version.String())
		return
	}

	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	opts := optionsFromFlags()
	if err := opts.Validate(); err != nil {
		flag.Usage()
		log.Fatalf("invalid flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	res, err := Run(ctx, opts)
	if err != nil {
		log.Fatalf("squeakview: %v", err)
	}
	log.Printf("run %s finished in %s: frames=%d rows=%d", res.Dir, time.Since(start).Round(time.Millisecond), res.Frames, res.Rows)
}
