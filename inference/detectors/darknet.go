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
	"gocv.io/x/gocv"
)

// DarknetDetector runs a darknet cfg/weights network through the OpenCV DNN module.
type DarknetDetector struct {
	mu       sync.Mutex
	net      gocv.Net
	outputs  []string
	size     image.Point
	names    []string
	nms      float32
	averager *inference.Averager
	buf      []float32
}

// NewDarknetDetector loads the network and verifies that every output layer
// emits per-location rows.
//
// Arguments:
//   - cfg: The engine configuration.
//
// Returns:
//   - *DarknetDetector: The loaded detector.
//   - error: ErrUnsupportedOutput for an unusable output layer, or a load error.
func NewDarknetDetector(cfg Config) (*DarknetDetector, error) {
	data, err := models.LoadDataConfig(cfg.DataConfig)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromDarknet(cfg.NetworkConfig, cfg.Weights)
	if net.Empty() {
		return nil, errors.Errorf("load darknet network %s with weights %s", cfg.NetworkConfig, cfg.Weights)
	}
	if cfg.GPU {
		if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
			net.Close()
			return nil, errors.Wrap(err, "select CUDA backend")
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err != nil {
			net.Close()
			return nil, errors.Wrap(err, "select CUDA target")
		}
	}

	var names, types []string
	for _, id := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(id)
		names = append(names, layer.GetName())
		types = append(types, layer.GetType())
		layer.Close()
	}
	if err := checkLayerTypes(types); err != nil {
		net.Close()
		return nil, err
	}

	size := cfg.Size()
	if size.X <= 0 || size.Y <= 0 {
		size = DefaultConfig().Size()
	}

	return &DarknetDetector{
		net:      net,
		outputs:  names,
		size:     size,
		names:    data.Names,
		nms:      cfg.NMSThreshold,
		averager: inference.NewAverager(cfg.AverageFrames),
	}, nil
}

// Infer implements inference.Engine.
func (d *DarknetDetector) Infer(ctx context.Context, frame *frames.Frame) ([]postprocess.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame == nil || frame.Mat.Empty() {
		return nil, errors.New("empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(frame.Mat, 1.0/255.0, d.size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	d.net.SetInput(blob, "")

	outs := d.net.ForwardLayers(d.outputs)
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()

	cols := 5 + len(d.names)
	d.buf = d.buf[:0]
	for i := range outs {
		if outs[i].Cols() != cols {
			return nil, errors.Wrapf(inference.ErrUnsupportedOutput,
				"layer %s has %d columns, want %d", d.outputs[i], outs[i].Cols(), cols)
		}
		data, err := outs[i].DataPtrFloat32()
		if err != nil {
			return nil, errors.Wrapf(err, "read layer %s", d.outputs[i])
		}
		d.buf = append(d.buf, data...)
	}

	dets, err := ParseRegionRows(d.averager.Add(d.buf), cols, len(d.names))
	if err != nil {
		return nil, err
	}
	postprocess.SuppressOverlaps(dets, d.nms)
	return dets, nil
}

// Classes implements inference.Engine.
func (d *DarknetDetector) Classes() []string {
	return d.names
}

// Close implements inference.Engine.
func (d *DarknetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
