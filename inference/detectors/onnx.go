package detectors

import (
	"context"
	"image"
	"sync"

	"github.com/nvr-ai/go-vision-relay/frames"
	"github.com/nvr-ai/go-vision-relay/inference"
	"github.com/nvr-ai/go-vision-relay/models"
	"github.com/nvr-ai/go-vision-relay/models/postprocess"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXDetector runs a YOLOv8 style ONNX export through onnxruntime.
type ONNXDetector struct {
	mu       sync.Mutex
	session  *inference.Session
	size     image.Point
	names    []string
	nms      float32
	averager *inference.Averager
}

// outputLayout is the validated shape of a detection model.
type outputLayout struct {
	input, output string
	size          image.Point
	classes       int
	anchors       int
}

// inspectModel checks that the model takes one [1,3,H,W] image and produces
// one [1,4+C,N] detection tensor.
func inspectModel(inputs, outputs []ort.InputOutputInfo, fallback image.Point) (outputLayout, error) {
	var l outputLayout
	if len(inputs) != 1 || len(outputs) != 1 {
		return l, errors.Wrapf(inference.ErrUnsupportedOutput,
			"model has %d inputs and %d outputs, want 1 and 1", len(inputs), len(outputs))
	}
	in, out := inputs[0].Dimensions, outputs[0].Dimensions
	if len(in) != 4 || in[1] != 3 {
		return l, errors.Wrapf(inference.ErrUnsupportedOutput, "input shape %v", in)
	}
	if len(out) != 3 || out[1] <= 4 || out[2] <= 0 {
		return l, errors.Wrapf(inference.ErrUnsupportedOutput, "output shape %v", out)
	}

	l.input, l.output = inputs[0].Name, outputs[0].Name
	l.size = fallback
	if in[2] > 0 && in[3] > 0 {
		l.size = image.Point{X: int(in[3]), Y: int(in[2])}
	}
	l.classes = int(out[1]) - 4
	l.anchors = int(out[2])
	return l, nil
}

// NewONNXDetector loads the model and validates its output layout.
//
// Arguments:
//   - cfg: The engine configuration.
//
// Returns:
//   - *ONNXDetector: The loaded detector.
//   - error: ErrMissingNames without a class-name list, ErrUnsupportedOutput for
//     an unusable model, or a load error.
func NewONNXDetector(cfg Config) (*ONNXDetector, error) {
	if cfg.DataConfig == "" {
		return nil, errors.Wrap(models.ErrMissingNames, "onnx engine needs a data configuration")
	}
	data, err := models.LoadDataConfig(cfg.DataConfig)
	if err != nil {
		return nil, err
	}
	if err := inference.InitializeEnvironment(cfg.Library); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.Model)
	if err != nil {
		return nil, errors.Wrapf(err, "inspect model %s", cfg.Model)
	}
	layout, err := inspectModel(inputs, outputs, cfg.Size())
	if err != nil {
		return nil, err
	}

	if len(data.Names) != layout.classes {
		return nil, errors.Wrapf(inference.ErrUnsupportedOutput,
			"model predicts %d classes, data config names %d", layout.classes, len(data.Names))
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(layout.size.Y), int64(layout.size.X)))
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+layout.classes), int64(layout.anchors)))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "create output tensor")
	}

	options, err := inference.NewSessionOptions(cfg.Provider)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(cfg.Model,
		[]string{layout.input}, []string{layout.output},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		options)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "create ORT session")
	}

	return &ONNXDetector{
		session:  &inference.Session{Session: session, Input: input, Output: output},
		size:     layout.size,
		names:    data.Names,
		nms:      cfg.NMSThreshold,
		averager: inference.NewAverager(cfg.AverageFrames),
	}, nil
}

// Infer implements inference.Engine.
func (d *ONNXDetector) Infer(ctx context.Context, frame *frames.Frame) ([]postprocess.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame == nil || frame.Mat.Empty() {
		return nil, errors.New("empty frame")
	}

	img, err := frame.Mat.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "convert frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil, errors.New("detector closed")
	}
	if err := inference.PrepareInput(img, d.size, d.session.Input.GetData()); err != nil {
		return nil, errors.Wrap(err, "prepare input")
	}
	if err := d.session.Session.Run(); err != nil {
		return nil, errors.Wrap(err, "run inference")
	}

	raw := d.averager.Add(d.session.Output.GetData())
	dets, err := ParseYOLOv8Output(raw, len(d.names), d.size.X, d.size.Y)
	if err != nil {
		return nil, err
	}
	postprocess.SuppressOverlaps(dets, d.nms)
	return dets, nil
}

// Classes implements inference.Engine.
func (d *ONNXDetector) Classes() []string {
	return d.names
}

// Close implements inference.Engine.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	return err
}
