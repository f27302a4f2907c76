package main

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/sightlineapp/sightline/pipeline/config"
	"github.com/sightlineapp/sightline/pipeline/listener"
	"github.com/sightlineapp/sightline/pipeline/scheduler"
	"github.com/sightlineapp/sightline/pkg/frame"
	"github.com/sightlineapp/sightline/pkg/perceive"
)

// Everything in this file exists so the pipeline can be run and eyeballed
// on a dev machine with no camera, microphone, or inference runtime: a
// synthetic moving-gradient camera and stub models with plausible,
// deterministic outputs.

// logSpeech "speaks" by logging. Stands in for the platform TTS engine.
type logSpeech struct {
	log logs.Log
}

func newLogSpeech(log logs.Log) *logSpeech {
	return &logSpeech{log: log}
}

func (s *logSpeech) Speak(text string, volume float64, interrupt bool) error {
	s.log.Infof("SPEAK: %q (volume %.1f, interrupt %v)", text, volume, interrupt)
	return nil
}

func (s *logSpeech) IsBusy() bool { return false }
func (s *logSpeech) Stop()        {}

// simLoader serves the stub models.
type simLoader struct{}

func newSimLoader() *simLoader { return &simLoader{} }

func (l *simLoader) LoadClassifier(ctx context.Context, cfg config.ModelConfig) (perceive.Classifier, error) {
	return &simClassifier{
		cfg: &perceive.ModelConfig{
			Architecture: "sim-classifier",
			Width:        224,
			Height:       224,
			DType:        perceive.TensorU8,
			OutputLength: 3,
			Classes:      []string{"hello", "thank_you", "help"},
		},
	}, nil
}

func (l *simLoader) LoadDetector(ctx context.Context, cfg config.ModelConfig) (perceive.Detector, error) {
	return &simDetector{
		cfg: &perceive.ModelConfig{
			Architecture: "sim-detector",
			Width:        320,
			Height:       320,
			DType:        perceive.TensorU8,
		},
	}, nil
}

func (l *simLoader) LoadFaceMatcher(ctx context.Context, cfg config.ModelConfig) (perceive.FaceMatcher, error) {
	return &simFaces{}, nil
}

// simClassifier is confident about a class that changes every few seconds,
// so smoothing and dedupe behavior is visible in the logs.
type simClassifier struct {
	cfg *perceive.ModelConfig
}

func (c *simClassifier) Classify(ctx context.Context, t *perceive.Tensor) ([]float32, error) {
	active := int(time.Now().Unix()/5) % len(c.cfg.Classes)
	scores := make([]float32, len(c.cfg.Classes))
	for i := range scores {
		scores[i] = 0.03
	}
	scores[active] = 0.93
	return scores, nil
}

func (c *simClassifier) Config() *perceive.ModelConfig { return c.cfg }
func (c *simClassifier) Close()                        {}

// simDetector reports one person drifting left to right across the view.
type simDetector struct {
	cfg *perceive.ModelConfig
}

func (d *simDetector) Detect(ctx context.Context, t *perceive.Tensor) ([]perceive.Detection, error) {
	phase := float64(time.Now().UnixMilli()%10000) / 10000
	x := float32(0.1 + 0.6*math.Abs(2*phase-1))
	return []perceive.Detection{
		{
			Class:      0,
			Label:      "person",
			Confidence: 0.87,
			Box:        perceive.Rect{X: x, Y: 0.25, Width: 0.2, Height: 0.5},
		},
	}, nil
}

func (d *simDetector) Config() *perceive.ModelConfig { return d.cfg }
func (d *simDetector) Close()                        {}

type simFaces struct{}

func (f *simFaces) Match(ctx context.Context, t *perceive.Tensor, region perceive.Rect) (*perceive.FaceMatch, error) {
	return nil, nil // nobody we know
}
func (f *simFaces) Close() {}

// simSoundModel hears a doorbell.
type simSoundModel struct {
	cfg *perceive.ModelConfig
}

func newSimSoundModel() *simSoundModel {
	return &simSoundModel{
		cfg: &perceive.ModelConfig{
			Architecture: "sim-sound",
			Width:        1024,
			Height:       1,
			Classes:      []string{"doorbell", "fire_alarm", "speech"},
		},
	}
}

func (m *simSoundModel) Classify(ctx context.Context, t *perceive.Tensor) ([]float32, error) {
	return []float32{0.88, 0.02, 0.10}, nil
}

func (m *simSoundModel) Config() *perceive.ModelConfig { return m.cfg }
func (m *simSoundModel) Close()                        {}

type simSource struct {
	shutdown chan bool
	done     sync.WaitGroup
}

func (s *simSource) stop() {
	close(s.shutdown)
	s.done.Wait()
}

// startSimulation feeds the scheduler a 320x240 moving gradient at 15 fps,
// and the listener (if running) a silent PCM chunk 10 times per second.
func startSimulation(log logs.Log, sched *scheduler.Scheduler, sound *listener.Listener) *simSource {
	s := &simSource{shutdown: make(chan bool)}

	s.done.Add(1)
	go func() {
		defer s.done.Done()
		const w, h = 320, 240
		rgb := make([]byte, w*h*3)
		ticker := time.NewTicker(time.Second / 15)
		defer ticker.Stop()
		tick := 0
		for {
			select {
			case <-s.shutdown:
				return
			case <-ticker.C:
				tick++
				for y := 0; y < h; y++ {
					for x := 0; x < w; x++ {
						i := (y*w + x) * 3
						rgb[i] = byte(x + tick*4)
						rgb[i+1] = byte(y + tick*2)
						rgb[i+2] = byte(x + y)
					}
				}
				f, err := frame.FromRGB(rgb, w, h)
				if err != nil {
					log.Errorf("Failed to build synthetic frame: %v", err)
					continue
				}
				sched.Submit(f)
			}
		}
	}()

	if sound != nil {
		s.done.Add(1)
		go func() {
			defer s.done.Done()
			ticker := time.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-s.shutdown:
					return
				case <-ticker.C:
					sound.Submit(make([]float32, 256))
				}
			}
		}()
	}

	return s
}
