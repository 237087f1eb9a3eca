package inference

import "sync"

// Averager smooths raw network output by averaging it over the most recent
// frames before boxes are extracted.
type Averager struct {
	mu     sync.Mutex
	window [][]float32
	next   int
	filled int
	mean   []float32
}

// NewAverager creates an averager over the last frames outputs. A window of
// one or less returns outputs unchanged.
func NewAverager(frames int) *Averager {
	if frames < 1 {
		frames = 1
	}
	return &Averager{window: make([][]float32, frames)}
}

// Add records output and returns the element-wise mean of the recorded
// outputs. The returned slice is reused by the next call. A change in output
// length restarts the window.
func (a *Averager) Add(output []float32) []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.window) == 1 {
		return output
	}

	if len(a.mean) != len(output) {
		for i := range a.window {
			a.window[i] = nil
		}
		a.next, a.filled = 0, 0
		a.mean = make([]float32, len(output))
	}

	slot := a.window[a.next]
	if slot == nil {
		slot = make([]float32, len(output))
		a.window[a.next] = slot
	}
	copy(slot, output)
	a.next = (a.next + 1) % len(a.window)
	if a.filled < len(a.window) {
		a.filled++
	}

	for i := range a.mean {
		a.mean[i] = 0
	}
	for _, w := range a.window[:a.filled] {
		for i, v := range w {
			a.mean[i] += v
		}
	}
	scale := 1 / float32(a.filled)
	for i := range a.mean {
		a.mean[i] *= scale
	}
	return a.mean
}
