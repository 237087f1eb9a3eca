// Command relay captures video, detects game objects and sends each frame's
// ranked detections to the operator console and robot controller.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nvr-ai/go-vision-relay/capture"
	"github.com/nvr-ai/go-vision-relay/config"
	"github.com/nvr-ai/go-vision-relay/controller"
	"github.com/nvr-ai/go-vision-relay/frames"
	"github.com/nvr-ai/go-vision-relay/inference/detectors"
	"github.com/nvr-ai/go-vision-relay/mailbox"
	"github.com/nvr-ai/go-vision-relay/notifier"
	"github.com/nvr-ai/go-vision-relay/profiler"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath string
		envPath    string
		pipeline   string
		videoPath  string
		framesDir  string
		device     int
		logFile    string
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration")
	flag.StringVar(&envPath, "env", ".env", "Path to an optional .env file")
	flag.StringVar(&pipeline, "pipeline", "", "GStreamer capture pipeline")
	flag.StringVar(&videoPath, "video", "", "Path to a video file")
	flag.StringVar(&framesDir, "frames", "", "Directory of numbered frame images")
	flag.IntVar(&device, "device", -1, "Capture device index")
	flag.StringVar(&logFile, "log", "", "CSV detection log")
	flag.StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("component", "relay")

	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(errors.Cause(err)) {
		log.WithError(err).Fatal("loading environment file")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		log.WithError(err).Fatal("applying environment")
	}
	applyFlags(cfg, pipeline, videoPath, framesDir, device, logFile, logLevel)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logrus.SetLevel(level)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("relay failed")
	}
}

func applyFlags(cfg *config.Config, pipeline, video, dir string, device int, logFile, logLevel string) {
	switch {
	case pipeline != "":
		cfg.Source = capture.SourceConfig{Pipeline: pipeline}
	case video != "":
		cfg.Source = capture.SourceConfig{File: video}
	case dir != "":
		cfg.Source = capture.SourceConfig{Directory: dir, FrameRate: cfg.Source.FrameRate}
	case device >= 0:
		cfg.Source = capture.SourceConfig{Device: device, Width: cfg.Source.Width, Height: cfg.Source.Height}
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
}

func run(cfg *config.Config, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := detectors.New(cfg.Engine)
	if err != nil {
		return errors.Wrap(err, "prepare inference engine")
	}
	defer engine.Close()
	log.WithFields(logrus.Fields{
		"engine":  cfg.Engine.Engine,
		"classes": len(engine.Classes()),
	}).Info("inference engine ready")

	var destinations []notifier.Destination
	for _, addr := range cfg.UDPAddrs() {
		d, err := notifier.DialUDP(addr)
		if err != nil {
			return err
		}
		destinations = append(destinations, d)
	}
	if cfg.Destinations.MQTT != nil {
		d, err := notifier.ConnectMQTT(*cfg.Destinations.MQTT, log.WithField("component", "mqtt"))
		if err != nil {
			return err
		}
		destinations = append(destinations, d)
	}

	var record io.Writer
	if cfg.LogFile != "" {
		f, err := os.Create(cfg.LogFile)
		if err != nil {
			return errors.Wrap(err, "create detection log")
		}
		defer f.Close()
		record = f
	}
	n, err := notifier.New(log.WithField("component", "notifier"), record, destinations...)
	if err != nil {
		return err
	}
	defer n.Close()

	source, err := capture.Open(cfg.Source)
	if err != nil {
		return err
	}

	pool := frames.NewPool(frames.DefaultPoolSize)
	defer pool.Close()
	mb := mailbox.New(func(f *frames.Frame) { f.Release() })

	prof := profiler.New(profiler.Options{
		ReportInterval: cfg.Profiler.Interval,
		Log:            log.WithField("component", "profiler"),
	})
	prof.AddMetricsCollector(profiler.CollectorFunc(func() map[string]float64 {
		st := n.Stats()
		return map[string]float64{
			profiler.CounterSendFailures: float64(st.Failures),
			"frames_free":                float64(pool.Available()),
		}
	}))
	if cfg.Profiler.Enabled {
		profCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go prof.Run(profCtx)
	}

	log.Info("relay running")
	return controller.Run(ctx, controller.Pipeline{
		Source:    source,
		Pool:      pool,
		Engine:    engine,
		Notifier:  n,
		Mailbox:   mb,
		Threshold: cfg.Threshold,
		Profiler:  prof,
		Log:       logrus.NewEntry(logrus.StandardLogger()),
	})
}
