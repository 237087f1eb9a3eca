// Package profiler - Per-stage timings and counters for the relay loops,
// reported periodically through logrus.
package profiler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Stage names recorded by the inference loop.
const (
	StageTake   = "take"
	StageInfer  = "infer"
	StageRank   = "rank"
	StageNotify = "notify"
)

// Counter names.
const (
	CounterFrames        = "frames"
	CounterDropped       = "dropped_frames"
	CounterInferErrors   = "infer_errors"
	CounterSendFailures  = "send_failures"
	CounterEmptyCaptures = "empty_captures"
)

// MetricsCollector supplies gauges sampled at report time.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// CollectorFunc adapts a function to MetricsCollector.
type CollectorFunc func() map[string]float64

// CollectMetrics implements MetricsCollector.
func (f CollectorFunc) CollectMetrics() map[string]float64 { return f() }

// Options configures a StageProfiler.
type Options struct {
	// ReportInterval specifies how often to emit reports (default: 10s).
	ReportInterval time.Duration
	// MaxSamples bounds the timing window per stage (default: 600).
	MaxSamples int
	// Log receives the reports.
	Log *logrus.Entry
}

// StageProfiler tracks stage durations and counters. It is safe for
// concurrent use.
type StageProfiler struct {
	reportInterval time.Duration
	maxSamples     int
	log            *logrus.Entry

	mu         sync.Mutex
	startTime  time.Time
	stages     map[string]*TimeTracker
	counters   map[string]uint64
	collectors []MetricsCollector
}

// TimeTracker tracks timing statistics of one stage over a sliding window.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// StageStats is the summary of one stage.
type StageStats struct {
	Count int64
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Snapshot is a point-in-time copy of all statistics.
type Snapshot struct {
	Uptime   time.Duration
	Stages   map[string]StageStats
	Counters map[string]uint64
	Gauges   map[string]float64
}

// New creates a profiler.
//
// Arguments:
//   - opts: The profiler options.
//
// Returns:
//   - *StageProfiler: The profiler.
func New(opts Options) *StageProfiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &StageProfiler{
		reportInterval: opts.ReportInterval,
		maxSamples:     opts.MaxSamples,
		log:            opts.Log,
		startTime:      time.Now(),
		stages:         make(map[string]*TimeTracker),
		counters:       make(map[string]uint64),
	}
}

// Run emits a report every interval until ctx is done, then emits a final one.
func (p *StageProfiler) Run(ctx context.Context) {
	ticker := time.NewTicker(p.reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Report()
			return
		case <-ticker.C:
			p.Report()
		}
	}
}

// AddMetricsCollector registers a collector sampled by every report.
func (p *StageProfiler) AddMetricsCollector(c MetricsCollector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collectors = append(p.collectors, c)
}

// StartOperation begins timing a stage.
//
// Arguments:
//   - name: The stage name.
//
// Returns:
//   - func(): Call when the stage completes.
func (p *StageProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.RecordDuration(name, time.Since(start))
	}
}

// RecordDuration records one completed stage.
func (p *StageProfiler) RecordDuration(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.stages[name]
	if !ok {
		t = &TimeTracker{minTime: d, maxTime: d}
		p.stages[name] = t
	}
	t.durations = append(t.durations, d)
	t.totalTime += d
	if len(t.durations) > p.maxSamples {
		t.totalTime -= t.durations[0]
		t.durations = t.durations[1:]
	}
	t.count++
	if d < t.minTime {
		t.minTime = d
	}
	if d > t.maxTime {
		t.maxTime = d
	}
}

// Add increments a counter by delta.
func (p *StageProfiler) Add(counter string, delta uint64) {
	p.mu.Lock()
	p.counters[counter] += delta
	p.mu.Unlock()
}

// Snapshot returns the current statistics.
func (p *StageProfiler) Snapshot() Snapshot {
	p.mu.Lock()
	collectors := append([]MetricsCollector(nil), p.collectors...)
	s := Snapshot{
		Uptime:   time.Since(p.startTime),
		Stages:   make(map[string]StageStats, len(p.stages)),
		Counters: make(map[string]uint64, len(p.counters)),
		Gauges:   make(map[string]float64),
	}
	for name, t := range p.stages {
		st := StageStats{Count: t.count, Min: t.minTime, Max: t.maxTime}
		if n := len(t.durations); n > 0 {
			st.Avg = t.totalTime / time.Duration(n)
		}
		s.Stages[name] = st
	}
	for name, v := range p.counters {
		s.Counters[name] = v
	}
	p.mu.Unlock()

	// Collectors may take their own locks.
	for _, c := range collectors {
		for name, v := range c.CollectMetrics() {
			s.Gauges[name] = v
		}
	}
	return s
}

// Report logs the current statistics at info level.
func (p *StageProfiler) Report() {
	s := p.Snapshot()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fields := logrus.Fields{
		"uptime":     s.Uptime.Truncate(time.Millisecond).String(),
		"goroutines": runtime.NumGoroutine(),
		"heap_alloc": formatBytes(mem.HeapAlloc),
	}
	for name, v := range s.Counters {
		fields[name] = v
	}
	for name, v := range s.Gauges {
		fields[name] = v
	}

	names := make([]string, 0, len(s.Stages))
	for name := range s.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := s.Stages[name]
		fields["stage_"+name] = fmt.Sprintf("avg=%v min=%v max=%v n=%d",
			st.Avg.Truncate(time.Microsecond), st.Min.Truncate(time.Microsecond),
			st.Max.Truncate(time.Microsecond), st.Count)
	}
	p.log.WithFields(fields).Info("profile")
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
