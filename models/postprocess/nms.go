package postprocess

import "sort"

// SuppressOverlaps performs greedy Non-Maximum Suppression in place, the way
// darknet's do_nms_obj does.
//
// Locations are visited in descending objectness order (descending best class
// probability when the network reports no objectness). A location whose box
// overlaps a stronger surviving location by more than iouThreshold loses every
// class probability and its objectness, and no longer suppresses others.
// Locations keep their position in dets; only scores change.
//
// Arguments:
//   - dets: Raw detections for one frame.
//   - iouThreshold: Overlap above which the weaker box is suppressed. Values <= 0 disable suppression.
func SuppressOverlaps(dets []Detection, iouThreshold float32) {
	if iouThreshold <= 0 || len(dets) < 2 {
		return
	}

	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return strength(&dets[order[a]]) > strength(&dets[order[b]])
	})

	for ai, i := range order {
		anchor := &dets[i]
		if strength(anchor) == 0 {
			continue
		}
		for _, j := range order[ai+1:] {
			other := &dets[j]
			if anchor.Box.IoU(other.Box) <= iouThreshold {
				continue
			}
			other.Objectness = 0
			for class := range other.Probs {
				other.Probs[class] = 0
			}
		}
	}
}

func strength(d *Detection) float32 {
	if d.Objectness > 0 {
		return d.Objectness
	}
	var best float32
	for _, p := range d.Probs {
		if p > best {
			best = p
		}
	}
	return best
}
