// Package benchmark - Measures per-frame inference, ranking and encoding cost
// of an engine over a set of recorded frames.
package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/nvr-ai/go-vision-relay/frames"
	"github.com/nvr-ai/go-vision-relay/inference"
	"github.com/nvr-ai/go-vision-relay/models/postprocess"
	"github.com/nvr-ai/go-vision-relay/util"
	"github.com/nvr-ai/go-vision-relay/wire"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Scenario defines one benchmark run.
type Scenario struct {
	Name       string  `json:"name"`
	Engine     string  `json:"engine"`
	Threshold  float32 `json:"threshold"`
	Iterations int     `json:"iterations"`
	WarmupRuns int     `json:"warmup_runs"`
}

// PerformanceMetrics captures the result of one scenario.
type PerformanceMetrics struct {
	Scenario          Scenario      `json:"scenario"`
	Timestamp         time.Time     `json:"timestamp"`
	TotalDuration     time.Duration `json:"total_duration"`
	InferenceDuration time.Duration `json:"inference_duration"`
	RankDuration      time.Duration `json:"rank_duration"`
	EncodeDuration    time.Duration `json:"encode_duration"`
	FramesPerSecond   float64       `json:"frames_per_second"`
	MemoryStats       MemoryMetrics `json:"memory_stats"`
	DetectionCount    int           `json:"detection_count"`
	ErrorRate         float64       `json:"error_rate"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
}

// Suite runs scenarios against one engine and a fixed set of frames.
type Suite struct {
	engine    inference.Engine
	outputDir string
	frames    []*frames.Frame
	mu        sync.RWMutex
	results   []PerformanceMetrics
}

// NewSuite creates a suite.
//
// Arguments:
//   - engine: The engine under test. The suite does not close it.
//   - outputDir: Where SaveResults writes.
//
// Returns:
//   - *Suite: The suite, without frames.
func NewSuite(engine inference.Engine, outputDir string) *Suite {
	return &Suite{engine: engine, outputDir: outputDir}
}

// AddFrame adds a decoded image to the frame set. The suite takes ownership.
func (s *Suite) AddFrame(mat gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, &frames.Frame{Mat: mat, Timestamp: time.Now()})
}

// LoadFrames decodes every numbered frame image in dir.
//
// Returns:
//   - int: The number of frames loaded.
//   - error: An error if the directory cannot be listed.
func (s *Suite) LoadFrames(dir string) (int, error) {
	files, err := util.ListDirectoryImageFiles(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range files {
		mat := gocv.IMRead(f.Path, gocv.IMReadColor)
		if mat.Empty() {
			mat.Close()
			continue
		}
		s.AddFrame(mat)
		n++
	}
	return n, nil
}

// RunScenario processes Iterations frames, cycling through the frame set.
//
// Arguments:
//   - ctx: Stops the run early.
//   - scenario: The scenario.
//
// Returns:
//   - *PerformanceMetrics: The measurements, also kept for SaveResults.
//   - error: An error if no frames are loaded or the engine output is unsupported.
func (s *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	s.mu.RLock()
	set := s.frames
	s.mu.RUnlock()
	if len(set) == 0 {
		return nil, errors.New("no frames loaded")
	}
	if scenario.Iterations < 1 {
		scenario.Iterations = len(set)
	}

	metrics := &PerformanceMetrics{Scenario: scenario, Timestamp: time.Now()}

	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, err := s.processFrame(ctx, set[i%len(set)], scenario, metrics); err != nil {
			if errors.Is(err, inference.ErrUnsupportedOutput) {
				return nil, err
			}
		}
	}
	metrics.InferenceDuration, metrics.RankDuration, metrics.EncodeDuration = 0, 0, 0

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	start := time.Now()
	failures, done := 0, 0
	for i := 0; i < scenario.Iterations; i++ {
		if ctx.Err() != nil {
			break
		}
		n, err := s.processFrame(ctx, set[i%len(set)], scenario, metrics)
		done++
		if err != nil {
			if errors.Is(err, inference.ErrUnsupportedOutput) {
				return nil, err
			}
			failures++
			continue
		}
		metrics.DetectionCount += n
	}
	metrics.TotalDuration = time.Since(start)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	if done > 0 {
		metrics.FramesPerSecond = float64(done) / metrics.TotalDuration.Seconds()
		metrics.ErrorRate = float64(failures) / float64(done)
	}
	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
	}

	s.mu.Lock()
	s.results = append(s.results, *metrics)
	s.mu.Unlock()
	return metrics, nil
}

func (s *Suite) processFrame(ctx context.Context, f *frames.Frame, sc Scenario, m *PerformanceMetrics) (int, error) {
	t := time.Now()
	dets, err := s.engine.Infer(ctx, f)
	m.InferenceDuration += time.Since(t)
	if err != nil {
		return 0, err
	}

	t = time.Now()
	ranked := postprocess.Rank(dets, sc.Threshold)
	m.RankDuration += time.Since(t)

	t = time.Now()
	_ = wire.Encode(0, f.Timestamp, ranked)
	m.EncodeDuration += time.Since(t)

	return ranked.Len(), nil
}

// Results returns all scenario results.
func (s *Suite) Results() []PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PerformanceMetrics(nil), s.results...)
}

// SaveResults writes the results as JSON and a CSV summary.
//
// Returns:
//   - string: The JSON file path.
//   - error: An error if a file cannot be written.
func (s *Suite) SaveResults() (string, error) {
	results := s.Results()
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(s.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write results file")
	}

	summaryFile := filepath.Join(s.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))
	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return "", errors.Wrap(err, "save summary CSV")
	}
	return resultsFile, nil
}

// Close releases the frame set.
func (s *Suite) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.frames {
		f.Mat.Close()
	}
	s.frames = nil
}

func saveSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	_ = w.Write([]string{"scenario", "engine", "fps", "total_ms", "infer_ms", "rank_ms", "encode_ms", "detections", "error_rate"})
	ms := func(d time.Duration) string { return strconv.FormatFloat(float64(d.Nanoseconds())/1e6, 'f', 2, 64) }
	for _, r := range results {
		_ = w.Write([]string{
			r.Scenario.Name,
			r.Scenario.Engine,
			strconv.FormatFloat(r.FramesPerSecond, 'f', 2, 64),
			ms(r.TotalDuration),
			ms(r.InferenceDuration),
			ms(r.RankDuration),
			ms(r.EncodeDuration),
			strconv.Itoa(r.DetectionCount),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		})
	}
	w.Flush()
	return w.Error()
}
