// Command benchmark measures an inference engine over recorded frames.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/nvr-ai/go-vision-relay/benchmark"
	"github.com/nvr-ai/go-vision-relay/config"
	"github.com/nvr-ai/go-vision-relay/inference/detectors"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath string
		framesDir  string
		outputDir  string
		iterations int
		warmup     int
		timeout    time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Path to the relay YAML configuration")
	flag.StringVar(&framesDir, "frames", "", "Directory of numbered frame images")
	flag.StringVar(&outputDir, "output", "./benchmark_results", "Output directory for results")
	flag.IntVar(&iterations, "iterations", 100, "Measured frames")
	flag.IntVar(&warmup, "warmup", 5, "Unmeasured warmup frames")
	flag.DurationVar(&timeout, "timeout", 30*time.Minute, "Benchmark timeout duration")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("component", "benchmark")

	if framesDir == "" {
		log.Fatal("frames directory is required (-frames)")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		log.WithError(err).Fatal("applying environment")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	engine, err := detectors.New(cfg.Engine)
	if err != nil {
		log.WithError(err).Fatal("prepare inference engine")
	}
	defer engine.Close()

	suite := benchmark.NewSuite(engine, outputDir)
	defer suite.Close()
	n, err := suite.LoadFrames(framesDir)
	if err != nil {
		log.WithError(err).Fatal("loading frames")
	}
	log.WithField("frames", n).Info("frames loaded")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	m, err := suite.RunScenario(ctx, benchmark.Scenario{
		Name:       string(cfg.Engine.Engine),
		Engine:     string(cfg.Engine.Engine),
		Threshold:  cfg.Threshold,
		Iterations: iterations,
		WarmupRuns: warmup,
	})
	if err != nil {
		log.WithError(err).Fatal("benchmark failed")
	}
	log.WithFields(logrus.Fields{
		"fps":        m.FramesPerSecond,
		"infer":      m.InferenceDuration.String(),
		"rank":       m.RankDuration.String(),
		"encode":     m.EncodeDuration.String(),
		"detections": m.DetectionCount,
		"error_rate": m.ErrorRate,
	}).Info("benchmark complete")

	path, err := suite.SaveResults()
	if err != nil {
		log.WithError(err).Fatal("saving results")
	}
	log.WithField("path", path).Info("results saved")
}
