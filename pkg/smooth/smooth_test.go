package smooth

import (
	"testing"

	"github.com/sightlineapp/sightline/pkg/perceive"
	"github.com/stretchr/testify/require"
)

func pred(class int, confidence float32) perceive.Prediction {
	return perceive.Prediction{Class: class, Label: "", Confidence: confidence}
}

func TestConsensusEmission(t *testing.T) {
	s := NewSmoother(5, 3)

	confidences := []float32{0.90, 0.88, 0.91, 0.89, 0.90}
	var got perceive.SmoothedPrediction
	var ok bool
	for i, c := range confidences {
		got, ok = s.Observe(pred(3, c))
		if i < 2 {
			require.False(t, ok, "emitted with only %v observations", i+1)
		} else {
			require.True(t, ok)
		}
	}
	require.Equal(t, 3, got.Class)
	require.InDelta(t, 0.896, got.Confidence, 0.0005)
}

func TestInsufficientConsistency(t *testing.T) {
	s := NewSmoother(5, 3)

	// Only 2 of 5 frames agree on any class
	sequence := []perceive.Prediction{
		pred(1, 0.9), pred(2, 0.9), pred(3, 0.9), pred(1, 0.9), pred(4, 0.9),
	}
	for _, p := range sequence {
		_, ok := s.Observe(p)
		require.False(t, ok)
	}
}

func TestTooFewObservationsNeverEmits(t *testing.T) {
	s := NewSmoother(5, 3)
	_, ok := s.Observe(pred(1, 0.99))
	require.False(t, ok)
	_, ok = s.Observe(pred(1, 0.99))
	require.False(t, ok)
}

func TestNarrowsOnLabelChange(t *testing.T) {
	s := NewSmoother(5, 3)
	for i := 0; i < 4; i++ {
		s.Observe(pred(1, 0.95))
	}
	require.Equal(t, 5, s.WindowSize())

	// Class 1 still holds 4 of the last 5, but the top-1 change narrows the
	// window to 3, where it only holds 2.
	_, ok := s.Observe(pred(2, 0.3))
	require.False(t, ok)
	require.Equal(t, 3, s.WindowSize())
}

func TestWidensWhenCalm(t *testing.T) {
	s := NewSmoother(5, 3)
	for i := 0; i < 4; i++ {
		s.Observe(pred(1, 0.95))
	}
	s.Observe(pred(2, 0.3)) // narrows to 3

	// While the 0.3 outlier is inside the last 5 observations, variance
	// stays above the calm threshold and the window remains narrow.
	s.Observe(pred(2, 0.8))
	require.Equal(t, 3, s.WindowSize())

	// Three consecutive class-2 frames fill the narrow window
	got, ok := s.Observe(pred(2, 0.82))
	require.True(t, ok)
	require.Equal(t, 2, got.Class)
	require.Equal(t, 3, s.WindowSize())

	// Once the outlier ages out of the variance lookback, the window
	// re-widens to 5.
	s.Observe(pred(2, 0.81))
	s.Observe(pred(2, 0.8))
	require.Equal(t, 5, s.WindowSize())
}

func TestReset(t *testing.T) {
	s := NewSmoother(5, 3)
	for i := 0; i < 5; i++ {
		s.Observe(pred(1, 0.9))
	}
	s.Reset()
	_, ok := s.Observe(pred(1, 0.9))
	require.False(t, ok, "reset must clear the window")
}
