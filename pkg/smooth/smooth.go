// Package smooth turns a stream of noisy per-frame predictions into stable
// temporal conclusions. A single-frame classifier flickers; we only act on
// a class once it has held a consistent majority of a short sliding window.
package smooth

import (
	"math"

	"github.com/bmharper/ringbuffer"
	"github.com/chewxy/math32"
	"github.com/sightlineapp/sightline/pkg/perceive"
)

const (
	DefaultWindow        = 5
	DefaultMinConsistent = 3

	// Window shrinks to this when consecutive top-1 labels disagree,
	// so we react faster to a genuine transition.
	narrowedWindow = 3

	// Window grows back to full size once confidence variance over the
	// last DefaultWindow observations drops below this.
	calmVariance = 0.05

	// A window with fewer total observations than this never emits.
	minObservations = 3
)

type Smoother struct {
	maxWindow     int
	minConsistent int

	window  int // current effective window size, in [narrowedWindow, maxWindow]
	history ringbuffer.RingP[perceive.Prediction]
	lastTop int
	hasLast bool
}

func NewSmoother(windowSize, minConsistent int) *Smoother {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	if minConsistent <= 0 {
		minConsistent = DefaultMinConsistent
	}
	return &Smoother{
		maxWindow:     windowSize,
		minConsistent: minConsistent,
		window:        windowSize,
		history:       ringbuffer.NewRingP[perceive.Prediction](nextPowerOf2(windowSize)),
	}
}

// Reset clears all accumulated history (eg on a mode switch).
func (s *Smoother) Reset() {
	s.history = ringbuffer.NewRingP[perceive.Prediction](nextPowerOf2(s.maxWindow))
	s.window = s.maxWindow
	s.hasLast = false
}

// Observe feeds one per-frame prediction into the window and returns a
// consensus prediction once one class holds at least minConsistent of the
// effective window, with confidence averaged across its occurrences.
func (s *Smoother) Observe(p perceive.Prediction) (perceive.SmoothedPrediction, bool) {
	changed := s.hasLast && p.Class != s.lastTop
	if changed {
		s.window = min(narrowedWindow, s.maxWindow)
	}
	s.lastTop = p.Class
	s.hasLast = true
	s.history.Add(p)

	// Widen back once confidence has settled, but never on the same
	// observation that narrowed the window.
	if !changed && s.window < s.maxWindow && s.history.Len() >= s.maxWindow {
		if s.confidenceVariance(s.maxWindow) < calmVariance {
			s.window = s.maxWindow
		}
	}

	window := min(s.window, s.history.Len())
	if window < minObservations {
		return perceive.SmoothedPrediction{}, false
	}

	// Per-class sum of confidence and count across the window
	sums := map[int]float32{}
	counts := map[int]int{}
	labels := map[int]string{}
	first := s.history.Len() - window
	for i := first; i < s.history.Len(); i++ {
		obs := s.history.Peek(i)
		sums[obs.Class] += obs.Confidence
		counts[obs.Class]++
		labels[obs.Class] = obs.Label
	}

	best := -1
	bestAvg := float32(0)
	for class, sum := range sums {
		avg := sum / float32(counts[class])
		if best == -1 || avg > bestAvg {
			best = class
			bestAvg = avg
		}
	}

	if counts[best] < s.minConsistent {
		return perceive.SmoothedPrediction{}, false
	}
	return perceive.SmoothedPrediction{
		Class:      best,
		Label:      labels[best],
		Confidence: bestAvg,
	}, true
}

// WindowSize returns the current effective window size.
func (s *Smoother) WindowSize() int {
	return s.window
}

// Variance of the confidences of the most recent n observations.
func (s *Smoother) confidenceVariance(n int) float32 {
	if s.history.Len() < n {
		return math32.MaxFloat32
	}
	first := s.history.Len() - n
	mean := float32(0)
	for i := first; i < s.history.Len(); i++ {
		mean += s.history.Peek(i).Confidence
	}
	mean /= float32(n)
	variance := float32(0)
	for i := first; i < s.history.Len(); i++ {
		d := s.history.Peek(i).Confidence - mean
		variance += d * d
	}
	return variance / float32(n)
}

func nextPowerOf2(n int) int {
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}
