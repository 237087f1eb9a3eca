// Package postprocess - Reduces raw network detections to ranked object lists.
package postprocess

import "github.com/chewxy/math32"

// Box is a normalized bounding box with X and Y at its center.
type Box struct {
	X, Y, W, H float32
}

// IoU returns the intersection over union of two boxes.
func (b Box) IoU(o Box) float32 {
	left := math32.Max(b.X-b.W/2, o.X-o.W/2)
	right := math32.Min(b.X+b.W/2, o.X+o.W/2)
	top := math32.Max(b.Y-b.H/2, o.Y-o.H/2)
	bottom := math32.Min(b.Y+b.H/2, o.Y+o.H/2)

	w, h := right-left, bottom-top
	if w <= 0 || h <= 0 {
		return 0
	}
	inter := w * h
	union := b.W*b.H + o.W*o.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is the network output for one candidate location: a box and one
// probability per class.
type Detection struct {
	// The bounding box of the location.
	Box Box
	// Objectness score, used to order suppression. Zero when the network has none.
	Objectness float32
	// Probs holds one probability per class index.
	Probs []float32
}
