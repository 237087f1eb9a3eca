package detectors

import (
	"github.com/nvr-ai/go-vision-relay/inference"
	"github.com/nvr-ai/go-vision-relay/models/postprocess"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// supportedLayerTypes lists the OpenCV output layer types that emit one row
// per candidate location. Darknet region and YOLO layers both load as "Region".
var supportedLayerTypes = map[string]bool{
	"Region": true,
}

// checkLayerTypes fails with ErrUnsupportedOutput for any layer type that does
// not emit per-location rows.
func checkLayerTypes(types []string) error {
	for _, typ := range types {
		if !supportedLayerTypes[typ] {
			return errors.Wrapf(inference.ErrUnsupportedOutput, "layer type %q", typ)
		}
	}
	return nil
}

// ParseRegionRows converts darknet region output into detections. Each row is
// [cx, cy, w, h, objectness, p0 .. pN-1] with coordinates already normalized.
//
// Arguments:
//   - data: Row-major output, len(data) == rows*cols.
//   - cols: Values per row; must be at least 6.
//   - classes: Number of class probabilities expected per row.
//
// Returns:
//   - []postprocess.Detection: One detection per row.
//   - error: ErrUnsupportedOutput if the layout does not match.
func ParseRegionRows(data []float32, cols, classes int) ([]postprocess.Detection, error) {
	if cols < 6 || cols-5 != classes || len(data)%cols != 0 {
		return nil, errors.Wrapf(inference.ErrUnsupportedOutput,
			"region output has %d columns for %d classes (%d values)", cols, classes, len(data))
	}

	rows := len(data) / cols
	dets := make([]postprocess.Detection, 0, rows)
	for r := 0; r < rows; r++ {
		row := data[r*cols : (r+1)*cols]
		probs := make([]float32, classes)
		copy(probs, row[5:])
		dets = append(dets, postprocess.Detection{
			Box:        postprocess.Box{X: row[0], Y: row[1], W: row[2], H: row[3]},
			Objectness: row[4],
			Probs:      probs,
		})
	}
	return dets, nil
}

// ParseYOLOv8Output converts a [4+classes, anchors] output, as exported by
// ultralytics, into detections. Coordinates are in input pixels and are
// normalized by the input size.
//
// Arguments:
//   - data: The output tensor data in channel-major order.
//   - classes: Number of classes.
//   - width, height: The network input size.
//
// Returns:
//   - []postprocess.Detection: One detection per anchor.
//   - error: ErrUnsupportedOutput if the data does not match the layout.
func ParseYOLOv8Output(data []float32, classes, width, height int) ([]postprocess.Detection, error) {
	channels := 4 + classes
	if classes < 1 || len(data) == 0 || len(data)%channels != 0 {
		return nil, errors.Wrapf(inference.ErrUnsupportedOutput,
			"output of %d values does not hold %d channels", len(data), channels)
	}
	anchors := len(data) / channels

	t := tensor.New(
		tensor.WithShape(channels, anchors),
		tensor.WithBacking(append([]float32(nil), data...)),
	)
	if err := t.T(); err != nil {
		return nil, errors.Wrap(err, "transpose output")
	}
	if err := t.Transpose(); err != nil {
		return nil, errors.Wrap(err, "materialize output")
	}
	rows, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Wrap(inference.ErrUnsupportedOutput, "output is not float32")
	}

	sx, sy := 1/float32(width), 1/float32(height)
	dets := make([]postprocess.Detection, 0, anchors)
	for a := 0; a < anchors; a++ {
		row := rows[a*channels : (a+1)*channels]
		probs := make([]float32, classes)
		copy(probs, row[4:])
		dets = append(dets, postprocess.Detection{
			Box:   postprocess.Box{X: row[0] * sx, Y: row[1] * sy, W: row[2] * sx, H: row[3] * sy},
			Probs: probs,
		})
	}
	return dets, nil
}
