// Package scheduler is the intake valve of the pipeline: it accepts raw
// camera frames at whatever rate the camera produces them, and feeds them
// to the orchestrator one at a time, never queueing more than one.
//
// Backpressure policy is drop-newest-wins: a newly submitted frame always
// replaces any not-yet-processed one, so under load we score the freshest
// view of the world instead of accumulating a stale backlog.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/sightlineapp/sightline/pkg/frame"
	"github.com/sightlineapp/sightline/pkg/perfstats"
)

// A pass slower than this triggers adaptive throttling.
const latencyBudget = 100 * time.Millisecond

// Throttle factor applied to the last observed latency.
const throttleFactor = 1.2

// Sink consumes one frame synchronously. The scheduler calls it from a
// single goroutine, so at most one frame is ever mid-scoring.
type Sink interface {
	ProcessFrame(ctx context.Context, f *frame.Frame)
}

type Scheduler struct {
	log  logs.Log
	sink Sink

	baseInterval time.Duration

	mu                sync.Mutex
	cond              *sync.Cond
	pending           *frame.Frame // Single-slot buffer. nil = consumed
	closed            bool
	effectiveInterval time.Duration
	submitted         int64
	processed         int64
	totalDrops        int64
	consecutiveDrops  int64
	passTime          perfstats.Accumulator // Pass latency (ms) since the last stats report

	drainStopped chan bool
}

// NewScheduler creates a scheduler draining into sink at up to targetFPS
// frames per second, and starts its drain goroutine.
func NewScheduler(log logs.Log, targetFPS int, sink Sink) *Scheduler {
	if targetFPS <= 0 {
		targetFPS = 10
	}
	s := &Scheduler{
		log:          log,
		sink:         sink,
		baseInterval: time.Second / time.Duration(targetFPS),
		drainStopped: make(chan bool),
	}
	s.effectiveInterval = s.baseInterval
	s.cond = sync.NewCond(&s.mu)
	go s.drain()
	return s
}

// Submit hands a frame to the scheduler. Non-blocking: if a frame is
// already pending it is silently superseded, never queued behind.
func (s *Scheduler) Submit(f *frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.submitted++
	if s.pending != nil {
		s.totalDrops++
		s.consecutiveDrops++
	}
	s.pending = f
	s.cond.Signal()
}

// EffectiveInterval is the current pacing interval between scoring passes.
func (s *Scheduler) EffectiveInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveInterval
}

// Stats returns (submitted, processed, dropped) frame counts.
func (s *Scheduler) Stats() (int64, int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted, s.processed, s.totalDrops
}

// Close stops the drain loop and waits for it to exit. Any pending frame
// is discarded.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.drainStopped

	s.mu.Lock()
	if s.pending != nil {
		s.pending = nil
		s.totalDrops++
	}
	s.mu.Unlock()
}

func (s *Scheduler) drain() {
	lastPassEnd := time.Time{}
	lastStats := time.Now()

	for {
		s.mu.Lock()
		for s.pending == nil && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			break
		}
		interval := s.effectiveInterval
		s.mu.Unlock()

		// Pace ourselves relative to the end of the previous pass. A newer
		// frame can still supersede the pending one while we sleep, which
		// is exactly what we want.
		if !lastPassEnd.IsZero() {
			if wait := interval - time.Since(lastPassEnd); wait > 0 {
				time.Sleep(wait)
			}
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			break
		}
		f := s.pending
		s.pending = nil
		s.consecutiveDrops = 0
		s.mu.Unlock()
		if f == nil {
			continue
		}

		start := time.Now()
		s.sink.ProcessFrame(context.Background(), f)
		elapsed := time.Since(start)
		lastPassEnd = time.Now()

		s.mu.Lock()
		s.processed++
		s.passTime.AddSample(float64(elapsed) / float64(time.Millisecond))
		if elapsed > latencyBudget {
			// Self-throttle instead of accumulating backlog
			throttled := time.Duration(float64(elapsed) * throttleFactor)
			if throttled < s.baseInterval {
				throttled = s.baseInterval
			}
			s.effectiveInterval = throttled
		} else {
			s.effectiveInterval = s.baseInterval
		}
		s.mu.Unlock()

		if time.Since(lastStats) > time.Minute {
			s.mu.Lock()
			submitted, processed, dropped := s.submitted, s.processed, s.totalDrops
			avgMS := s.passTime.Average()
			s.passTime.Reset()
			s.mu.Unlock()
			s.log.Infof("Scheduler: %.0f%% of %v frames processed (%v superseded), %.1f ms avg pass",
				100*float64(processed)/float64(submitted), submitted, dropped, avgMS)
			lastStats = time.Now()
		}
	}
	close(s.drainStopped)
}
