package benchmark

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvr-ai/go-vision-relay/frames"
	"github.com/nvr-ai/go-vision-relay/inference"
	"github.com/nvr-ai/go-vision-relay/models/postprocess"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// MockEngine reports two confident locations per frame and fails every
// failEvery-th call.
type MockEngine struct {
	calls     int
	failEvery int
	err       error
}

func (m *MockEngine) Infer(context.Context, *frames.Frame) ([]postprocess.Detection, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.failEvery > 0 && m.calls%m.failEvery == 0 {
		return nil, errors.New("transient")
	}
	return []postprocess.Detection{
		{Box: postprocess.Box{X: 0.2, Y: 0.2, W: 0.1, H: 0.1}, Probs: []float32{0.9, 0.1}},
		{Box: postprocess.Box{X: 0.7, Y: 0.7, W: 0.1, H: 0.1}, Probs: []float32{0.1, 0.8}},
		{Box: postprocess.Box{X: 0.5, Y: 0.5, W: 0.1, H: 0.1}, Probs: []float32{0.1, 0.1}},
	}, nil
}

func (m *MockEngine) Classes() []string { return []string{"cube", "scale"} }
func (m *MockEngine) Close() error      { return nil }

func newSuite(t *testing.T, engine inference.Engine) *Suite {
	s := NewSuite(engine, t.TempDir())
	s.AddFrame(gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3))
	s.AddFrame(gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3))
	t.Cleanup(s.Close)
	return s
}

func TestRunScenario(t *testing.T) {
	engine := &MockEngine{failEvery: 4}
	s := newSuite(t, engine)

	m, err := s.RunScenario(context.Background(), Scenario{
		Name: "mock", Threshold: 0.24, Iterations: 8, WarmupRuns: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, 10, engine.calls)
	// Calls 4 and 8 fail; of the measured calls 3..10 that is two of eight.
	assert.InDelta(t, 0.25, m.ErrorRate, 1e-9)
	assert.Equal(t, 12, m.DetectionCount)
	assert.Greater(t, m.FramesPerSecond, 0.0)
	assert.Len(t, s.Results(), 1)
}

func TestRunScenarioNoFrames(t *testing.T) {
	s := NewSuite(&MockEngine{}, t.TempDir())
	_, err := s.RunScenario(context.Background(), Scenario{Iterations: 1})
	assert.Error(t, err)
}

func TestRunScenarioUnsupportedOutput(t *testing.T) {
	s := newSuite(t, &MockEngine{err: errors.Wrap(inference.ErrUnsupportedOutput, "Softmax")})
	_, err := s.RunScenario(context.Background(), Scenario{Iterations: 3})
	assert.True(t, errors.Is(err, inference.ErrUnsupportedOutput))
}

func TestSaveResults(t *testing.T) {
	s := newSuite(t, &MockEngine{})
	_, err := s.RunScenario(context.Background(), Scenario{Name: "mock", Engine: "darknet", Iterations: 2})
	require.NoError(t, err)

	path, err := s.SaveResults()
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name": "mock"`)

	summaries, err := filepath.Glob(filepath.Join(filepath.Dir(path), "benchmark_summary_*.csv"))
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	csv, err := os.ReadFile(summaries[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "mock,darknet,"))
}
