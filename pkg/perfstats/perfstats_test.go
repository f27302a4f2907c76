package perfstats

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAccumulator(t *testing.T) {
	a := Accumulator{}
	require.Equal(t, 0.0, a.Average())
	a.AddSample(10)
	a.AddSample(20)
	require.Equal(t, 15.0, a.Average())
	a.Reset()
	require.Equal(t, 0.0, a.Average())
}

func TestMovingAverage(t *testing.T) {
	stat := atomic.Int64{}
	UpdateMovingAverage(&stat, 1000)
	require.EqualValues(t, 1000, stat.Load())
	// Decay is 63/64 old + 1/64 new
	UpdateMovingAverage(&stat, 2000)
	require.EqualValues(t, (1000*63+2000)>>6, stat.Load())
}

func TestLatencyWindowPercentile(t *testing.T) {
	lw := NewLatencyWindow(8)
	require.Equal(t, time.Duration(0), lw.Percentile(0.5))
	for i := 1; i <= 10; i++ {
		lw.Add(time.Duration(i) * time.Millisecond)
	}
	// Window holds the last 8 samples: 3..10 ms
	require.Equal(t, 10*time.Millisecond, lw.Percentile(1.0))
	require.Equal(t, 6*time.Millisecond, lw.Percentile(0.5))
	require.Equal(t, 3*time.Millisecond, lw.Percentile(0.0))
}
