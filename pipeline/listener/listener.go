// Package listener is the ambient sound path of the pipeline. Microphone
// PCM chunks land in a single-slot mailbox with the same overwrite policy
// as the frame scheduler; a drain goroutine keeps a rolling window of the
// freshest samples, runs the sound classifier, smooths its predictions,
// and announces recognized sounds. Configured critical labels (alarms,
// sirens) are announced at high priority.
package listener

import (
	"context"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/sightlineapp/sightline/pipeline/alert"
	"github.com/sightlineapp/sightline/pipeline/config"
	"github.com/sightlineapp/sightline/pkg/perceive"
	"github.com/sightlineapp/sightline/pkg/smooth"
)

type Listener struct {
	log        logs.Log
	cfg        *config.Config
	classifier perceive.Classifier
	alerts     *alert.Queue // nil disables announcements
	critical   map[string]bool

	// OnSound, when set, receives every emitted consensus prediction.
	// Must be set before the first Submit.
	OnSound func(perceive.SmoothedPrediction)

	smoother *smooth.Smoother
	window   []float32 // rolling model input, owned by the drain goroutine

	mu           sync.Mutex
	cond         *sync.Cond
	pending      []float32
	closed       bool
	totalDrops   int64
	lastErrLog   time.Time
	drainStopped chan bool
}

// NewListener starts the sound path. The classifier's declared input width
// is the rolling sample window length.
func NewListener(log logs.Log, cfg *config.Config, classifier perceive.Classifier, alerts *alert.Queue) *Listener {
	critical := map[string]bool{}
	for _, label := range cfg.Sound.CriticalLabels {
		critical[label] = true
	}
	l := &Listener{
		log:          log,
		cfg:          cfg,
		classifier:   classifier,
		alerts:       alerts,
		critical:     critical,
		smoother:     smooth.NewSmoother(cfg.SmoothingWindow, cfg.MinConsistentFrames),
		window:       make([]float32, classifier.Config().Width),
		drainStopped: make(chan bool),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.drain()
	return l
}

// Submit hands a PCM chunk (mono float samples) to the listener.
// Non-blocking: an unconsumed chunk is superseded, never queued behind.
func (l *Listener) Submit(pcm []float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if l.pending != nil {
		l.totalDrops++
	}
	l.pending = pcm
	l.cond.Signal()
}

// Close stops the drain loop and waits for it.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
	<-l.drainStopped
}

func (l *Listener) drain() {
	defer close(l.drainStopped)
	for {
		l.mu.Lock()
		for l.pending == nil && !l.closed {
			l.cond.Wait()
		}
		if l.closed {
			l.mu.Unlock()
			return
		}
		chunk := l.pending
		l.pending = nil
		l.mu.Unlock()

		l.process(chunk)
	}
}

// process shifts the chunk into the rolling window and classifies it.
func (l *Listener) process(chunk []float32) {
	if len(chunk) >= len(l.window) {
		copy(l.window, chunk[len(chunk)-len(l.window):])
	} else {
		copy(l.window, l.window[len(chunk):])
		copy(l.window[len(l.window)-len(chunk):], chunk)
	}

	// 1-channel audio, outside ValidateInput's 3-channel image contract
	t := &perceive.Tensor{
		DType:    perceive.TensorF32,
		F32:      l.window,
		Width:    len(l.window),
		Height:   1,
		Channels: 1,
	}
	scores, err := l.classifier.Classify(context.Background(), t)
	if err != nil {
		l.mu.Lock()
		logIt := time.Since(l.lastErrLog) > 15*time.Second
		if logIt {
			l.lastErrLog = time.Now()
		}
		l.mu.Unlock()
		if logIt {
			ierr := &perceive.InferenceError{Model: "sound", Err: err}
			l.log.Errorf("%v", ierr)
		}
		return
	}

	pred := perceive.Top1(scores, l.classifier.Config().Classes)
	smoothed, ok := l.smoother.Observe(pred)
	if !ok || smoothed.Confidence < l.cfg.Models.Sound.ConfidenceThreshold {
		return
	}
	if l.OnSound != nil {
		l.OnSound(smoothed)
	}
	l.announce(smoothed)
}

func (l *Listener) announce(p perceive.SmoothedPrediction) {
	if l.alerts == nil {
		return
	}
	priority := alert.PriorityNormal
	if l.critical[p.Label] {
		priority = alert.PriorityHigh
	}
	text, key := alert.SoundAlert(p.Label)
	l.alerts.Enqueue(alert.Item{
		Text:         text,
		Priority:     priority,
		CacheKey:     key,
		DedupeWindow: l.cfg.Alerts.SoundWindow.Get(),
	})
}
