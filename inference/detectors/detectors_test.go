package detectors

import (
	"image"
	"testing"

	"github.com/nvr-ai/go-vision-relay/inference"
	"github.com/nvr-ai/go-vision-relay/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func TestCheckLayerTypes(t *testing.T) {
	assert.NoError(t, checkLayerTypes([]string{"Region", "Region"}))

	err := checkLayerTypes([]string{"Region", "Detection"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, inference.ErrUnsupportedOutput))
	assert.Contains(t, err.Error(), "Detection")
}

func TestParseRegionRows(t *testing.T) {
	data := []float32{
		0.5, 0.5, 0.1, 0.2, 0.9, 0.7, 0.1,
		0.2, 0.3, 0.4, 0.5, 0.6, 0.0, 0.8,
	}
	dets, err := ParseRegionRows(data, 7, 2)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, float32(0.5), dets[0].Box.X)
	assert.Equal(t, float32(0.2), dets[0].Box.H)
	assert.Equal(t, float32(0.9), dets[0].Objectness)
	assert.Equal(t, []float32{0.7, 0.1}, dets[0].Probs)
	assert.Equal(t, []float32{0.0, 0.8}, dets[1].Probs)

	// Probabilities are copied out of the network buffer.
	data[5] = 0
	assert.Equal(t, float32(0.7), dets[0].Probs[0])
}

func TestParseRegionRowsRejectsLayout(t *testing.T) {
	tests := []struct {
		name    string
		data    []float32
		cols    int
		classes int
	}{
		{"too few columns", make([]float32, 10), 5, 0},
		{"class count mismatch", make([]float32, 14), 7, 3},
		{"ragged rows", make([]float32, 13), 7, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRegionRows(tt.data, tt.cols, tt.classes)
			assert.True(t, errors.Is(err, inference.ErrUnsupportedOutput))
		})
	}
}

func TestParseYOLOv8Output(t *testing.T) {
	// Two classes, three anchors, channel-major.
	data := []float32{
		320, 64, 0, // cx
		320, 128, 0, // cy
		64, 32, 0, // w
		128, 32, 0, // h
		0.9, 0.1, 0, // class 0
		0.2, 0.6, 0, // class 1
	}
	dets, err := ParseYOLOv8Output(data, 2, 640, 640)
	require.NoError(t, err)
	require.Len(t, dets, 3)

	assert.InDelta(t, 0.5, dets[0].Box.X, 1e-6)
	assert.InDelta(t, 0.5, dets[0].Box.Y, 1e-6)
	assert.InDelta(t, 0.1, dets[0].Box.W, 1e-6)
	assert.InDelta(t, 0.2, dets[0].Box.H, 1e-6)
	assert.InDeltaSlice(t, []float32{0.9, 0.2}, dets[0].Probs, 1e-6)

	assert.InDelta(t, 0.1, dets[1].Box.X, 1e-6)
	assert.InDelta(t, 0.2, dets[1].Box.Y, 1e-6)
	assert.InDeltaSlice(t, []float32{0.1, 0.6}, dets[1].Probs, 1e-6)
	assert.Zero(t, dets[1].Objectness)

	// The input is left untouched.
	assert.Equal(t, float32(64), data[1])
}

func TestParseYOLOv8OutputRejectsLayout(t *testing.T) {
	_, err := ParseYOLOv8Output(make([]float32, 7), 2, 640, 640)
	assert.True(t, errors.Is(err, inference.ErrUnsupportedOutput))

	_, err = ParseYOLOv8Output(nil, 2, 640, 640)
	assert.True(t, errors.Is(err, inference.ErrUnsupportedOutput))
}

func TestInspectModel(t *testing.T) {
	in := []ort.InputOutputInfo{{Name: "images", Dimensions: ort.NewShape(1, 3, 480, 640)}}
	out := []ort.InputOutputInfo{{Name: "output0", Dimensions: ort.NewShape(1, 10, 6300)}}

	l, err := inspectModel(in, out, image.Point{X: 416, Y: 416})
	require.NoError(t, err)
	assert.Equal(t, "images", l.input)
	assert.Equal(t, "output0", l.output)
	assert.Equal(t, image.Point{X: 640, Y: 480}, l.size)
	assert.Equal(t, 6, l.classes)
	assert.Equal(t, 6300, l.anchors)
}

func TestInspectModelDynamicInput(t *testing.T) {
	in := []ort.InputOutputInfo{{Name: "images", Dimensions: ort.NewShape(1, 3, -1, -1)}}
	out := []ort.InputOutputInfo{{Name: "output0", Dimensions: ort.NewShape(1, 84, 8400)}}

	l, err := inspectModel(in, out, image.Point{X: 416, Y: 416})
	require.NoError(t, err)
	assert.Equal(t, image.Point{X: 416, Y: 416}, l.size)
}

func TestInspectModelRejects(t *testing.T) {
	image3 := []ort.InputOutputInfo{{Name: "images", Dimensions: ort.NewShape(1, 3, 640, 640)}}
	tests := []struct {
		name    string
		inputs  []ort.InputOutputInfo
		outputs []ort.InputOutputInfo
	}{
		{"two outputs", image3, []ort.InputOutputInfo{
			{Dimensions: ort.NewShape(1, 84, 8400)}, {Dimensions: ort.NewShape(1, 84, 8400)},
		}},
		{"classification head", image3, []ort.InputOutputInfo{{Dimensions: ort.NewShape(1, 1000)}}},
		{"no classes", image3, []ort.InputOutputInfo{{Dimensions: ort.NewShape(1, 4, 8400)}}},
		{"grayscale input", []ort.InputOutputInfo{{Dimensions: ort.NewShape(1, 1, 640, 640)}},
			[]ort.InputOutputInfo{{Dimensions: ort.NewShape(1, 84, 8400)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inspectModel(tt.inputs, tt.outputs, image.Point{X: 640, Y: 640})
			assert.True(t, errors.Is(err, inference.ErrUnsupportedOutput))
		})
	}
}

func TestNewUnknownEngine(t *testing.T) {
	_, err := New(Config{Engine: "tensorrt"})
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, inference.EngineDarknet, cfg.Engine)
	assert.Equal(t, image.Point{X: 416, Y: 416}, cfg.Size())
	assert.Equal(t, float32(0.4), cfg.NMSThreshold)
	assert.Equal(t, 3, cfg.AverageFrames)
}

func TestNewONNXDetectorNeedsClassNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine = inference.EngineONNX
	cfg.Model = "yolov8n.onnx"

	_, err := New(cfg)
	assert.True(t, errors.Is(err, models.ErrMissingNames))
}
