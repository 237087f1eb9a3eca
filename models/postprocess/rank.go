package postprocess

import "github.com/nvr-ai/go-vision-relay/models"

// Rank reduces raw detections to at most models.MaxObjects objects sorted by
// descending probability.
//
// Each location contributes at most one object: the class with the highest
// probability among those strictly above threshold, the first one found on
// ties. Objects weaker than the weakest retained entry of a full list are
// dropped even though they passed the threshold. When no location qualifies,
// the first entry of the result is ObjectNone.
//
// Arguments:
//   - dets: Raw detections for one frame.
//   - threshold: Per-class probability a class must exceed to be considered.
//
// Returns:
//   - models.Ranked: The ranked objects.
func Rank(dets []Detection, threshold float32) models.Ranked {
	var ranked models.Ranked

	for i := range dets {
		class, prob := best(dets[i].Probs, threshold)
		if class < 0 {
			continue
		}
		b := dets[i].Box
		insert(&ranked, models.Object{
			Type:        models.TypeForClass(class),
			X:           b.X,
			Y:           b.Y,
			Width:       b.W,
			Height:      b.H,
			Probability: prob,
		})
	}

	return ranked
}

// best returns the most probable class above threshold, or -1.
func best(probs []float32, threshold float32) (int, float32) {
	class := -1
	var prob float32
	for j, p := range probs {
		if p > threshold && (class < 0 || p > prob) {
			class, prob = j, p
		}
	}
	return class, prob
}

// insert places obj at the first slot that is empty or holds a strictly lower
// probability, shifting later entries down and evicting the last one.
func insert(ranked *models.Ranked, obj models.Object) {
	for i := range ranked {
		slot := &ranked[i]
		if slot.Type != models.ObjectNone && slot.Probability >= obj.Probability {
			continue
		}
		copy(ranked[i+1:], ranked[i:len(ranked)-1])
		ranked[i] = obj
		return
	}
}
