// Package orchestrator owns the active operating mode, routes frames
// through the right model combination, merges multi-model outputs into one
// tagged result, and derates its own inference frequency under battery
// pressure. It is the single-threaded heart of the pipeline: all frame
// processing happens on the scheduler's drain goroutine.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/sightlineapp/sightline/pipeline/alert"
	"github.com/sightlineapp/sightline/pipeline/config"
	"github.com/sightlineapp/sightline/pipeline/power"
	"github.com/sightlineapp/sightline/pipeline/resultcache"
	"github.com/sightlineapp/sightline/pkg/frame"
	"github.com/sightlineapp/sightline/pkg/perceive"
	"github.com/sightlineapp/sightline/pkg/perfstats"
	"github.com/sightlineapp/sightline/pkg/preprocess"
	"github.com/sightlineapp/sightline/pkg/smooth"
	"golang.org/x/sync/errgroup"
)

// Minimum time between accepted mode switches.
const switchCooldown = 300 * time.Millisecond

// Consecutive inference failures before a port is torn down and reloaded.
const maxConsecutiveFailures = 2

// Soft latency budget for one scoring pass, in milliseconds.
const latencyBudgetMs = 100

type Orchestrator struct {
	log     logs.Log
	cfg     *config.Config
	models  *modelSet
	battery power.Monitor
	alerts  *alert.Queue       // nil disables announcements
	cache   *resultcache.Cache // nil disables persistence

	modeLock     sync.Mutex
	mode         Mode
	switching    atomic.Bool
	lastSwitchAt time.Time

	// Owned by the frame path (scheduler drain goroutine). Never touched
	// from anywhere else.
	smoother      *smooth.Smoother
	tracker       *tracker
	lastProcessed time.Time

	totalLatency *perfstats.LatencyWindow
	avgTotalNS   atomic.Int64

	watchersLock sync.RWMutex
	watchers     []chan *Result

	dumpLock       sync.Mutex
	hasDumpedFrame map[string]bool

	closed atomic.Bool
}

func New(log logs.Log, cfg *config.Config, loader ModelLoader, battery power.Monitor, alerts *alert.Queue, cache *resultcache.Cache) *Orchestrator {
	return &Orchestrator{
		log:            log,
		cfg:            cfg,
		models:         newModelSet(log, loader, cfg.Models, maxConsecutiveFailures),
		battery:        battery,
		alerts:         alerts,
		cache:          cache,
		mode:           ModeDashboard,
		smoother:       smooth.NewSmoother(cfg.SmoothingWindow, cfg.MinConsistentFrames),
		tracker:        newTracker(),
		totalLatency:   perfstats.NewLatencyWindow(256),
		hasDumpedFrame: map[string]bool{},
	}
}

// Mode returns the active operating mode.
func (o *Orchestrator) Mode() Mode {
	o.modeLock.Lock()
	defer o.modeLock.Unlock()
	return o.mode
}

// IsSwitching reports whether a mode switch is currently in progress.
func (o *Orchestrator) IsSwitching() bool {
	return o.switching.Load()
}

// SetMode requests a switch to mode m. The request is rejected (returns
// false) if a switch is already in progress, if less than the cooldown has
// elapsed since the last accepted switch, or if m is already active.
// Loading the mode's model family happens in the background; frames
// arriving in the meantime are answered Skipped.
func (o *Orchestrator) SetMode(m Mode) bool {
	o.modeLock.Lock()
	if o.switching.Load() || time.Since(o.lastSwitchAt) < switchCooldown || m == o.mode {
		o.modeLock.Unlock()
		return false
	}
	o.lastSwitchAt = time.Now()
	o.switching.Store(true)
	o.modeLock.Unlock()

	go o.completeSwitch(m)
	return true
}

func (o *Orchestrator) completeSwitch(m Mode) {
	defer o.switching.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Models.LoadTimeout.Get())
	defer cancel()

	var err error
	switch m {
	case ModeTranslation:
		err = o.models.loadTranslationFamily(ctx)
	case ModeDetection:
		err = o.models.loadDetectionFamily(ctx)
	default:
		o.models.closeAll()
	}
	if err != nil {
		// The family stays unavailable and frames get skipped, but the mode
		// switch itself completes.
		lerr := &perceive.ModelLoadError{Model: m.String() + " family", Reason: "load failed", Err: err}
		o.log.Errorf("%v", lerr)
	}

	if o.alerts != nil {
		o.alerts.Clear()
	}
	o.smoother.Reset()
	o.tracker.reset()

	o.modeLock.Lock()
	o.mode = m
	o.modeLock.Unlock()
	o.log.Infof("Mode switched to %v", m)
}

// Close releases the loaded models. The orchestrator answers Error for any
// frame processed after Close.
func (o *Orchestrator) Close() {
	if o.closed.Swap(true) {
		return
	}
	o.models.closeAll()
}

// ProcessFrame makes the orchestrator usable as the scheduler's sink.
func (o *Orchestrator) ProcessFrame(ctx context.Context, f *frame.Frame) {
	o.Process(ctx, f)
}

// Process runs one frame through the active mode's models and returns the
// tagged result. Must only be called from a single goroutine (the
// scheduler's drain loop).
func (o *Orchestrator) Process(ctx context.Context, f *frame.Frame) *Result {
	start := time.Now()
	if o.closed.Load() {
		return o.finish(errorResult("orchestrator is closed"), start)
	}
	if o.switching.Load() {
		return o.finish(skipped("mode switch in progress"), start)
	}
	mode := o.Mode()
	if mode != ModeTranslation && mode != ModeDetection {
		return o.finish(skipped(mode.String()+" mode does not consume camera frames"), start)
	}

	if interval := o.deratedInterval(); interval > 0 && !o.lastProcessed.IsZero() && time.Since(o.lastProcessed) < interval {
		return o.finish(skipped("battery derating"), start)
	}
	o.lastProcessed = time.Now()

	var res *Result
	if mode == ModeTranslation {
		res = o.processTranslation(ctx, f)
	} else {
		res = o.processDetection(ctx, f)
	}
	return o.finish(res, start)
}

func (o *Orchestrator) finish(res *Result, start time.Time) *Result {
	elapsed := time.Since(start)
	res.Latency.TotalMs = float64(elapsed) / float64(time.Millisecond)
	if res.Kind != KindSkipped {
		o.totalLatency.Add(elapsed)
		perfstats.UpdateMovingAverage(&o.avgTotalNS, elapsed.Nanoseconds())
		if res.Latency.TotalMs > latencyBudgetMs {
			o.log.Warnf("Scoring pass took %.1f ms (budget %v ms)", res.Latency.TotalMs, latencyBudgetMs)
		}
	}
	o.sendToWatchers(res)
	return res
}

// LatencyPercentile returns the given percentile (0..1) of recent
// non-skipped pass latencies.
func (o *Orchestrator) LatencyPercentile(p float64) time.Duration {
	return o.totalLatency.Percentile(p)
}

// deratedFPS maps battery state to an allowed inference frequency.
func (o *Orchestrator) deratedFPS() int {
	if o.battery == nil {
		return o.cfg.TargetFPS
	}
	if o.battery.PowerSaver() {
		return 1
	}
	level := o.battery.Level()
	switch {
	case level >= 50:
		return o.cfg.TargetFPS
	case level >= 20:
		return min(5, o.cfg.TargetFPS)
	default:
		return min(2, o.cfg.TargetFPS)
	}
}

// deratedInterval is the minimum gap between processed frames, or 0 when
// running at full speed (the scheduler already paces at targetFps).
func (o *Orchestrator) deratedInterval() time.Duration {
	fps := o.deratedFPS()
	if fps >= o.cfg.TargetFPS {
		return 0
	}
	return time.Second / time.Duration(fps)
}

func (o *Orchestrator) processTranslation(ctx context.Context, f *frame.Frame) *Result {
	static, dynamic := o.models.translationPorts()
	if static == nil {
		return skipped("sign models unavailable")
	}

	staticOpt, err := preprocess.ForModel(static.Config(), preprocess.ImageNet)
	if err != nil {
		return errorResult(err.Error())
	}

	// Preprocess for both models up front, concurrently. The dynamic tensor
	// is speculative, but preprocessing is the cheap part and this keeps the
	// static -> dynamic handoff off the critical path.
	prepStart := time.Now()
	var staticT, dynamicT *perceive.Tensor
	g := errgroup.Group{}
	g.Go(func() error {
		var err error
		staticT, err = preprocess.Preprocess(f, staticOpt)
		return err
	})
	if dynamic != nil {
		dynamicOpt, err := preprocess.ForModel(dynamic.Config(), preprocess.ImageNet)
		if err != nil {
			return errorResult(err.Error())
		}
		g.Go(func() error {
			var err error
			dynamicT, err = preprocess.Preprocess(f, dynamicOpt)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return errorResult(fmt.Sprintf("preprocess: %v", err))
	}
	prepMs := float64(time.Since(prepStart)) / float64(time.Millisecond)

	o.maybeDumpFrame(staticT, preprocess.ImageNet, nil, "translation")

	// A tensor that disagrees with the model's declared contract means the
	// preprocessor and the port were wired up wrong, not a bad frame.
	if err := perceive.ValidateInput(static.Config(), staticT); err != nil {
		return errorResult(err.Error())
	}

	infStart := time.Now()
	scores, err := static.Classify(ctx, staticT)
	if err != nil {
		o.models.recordFailure(modelStaticSign, err)
		return skipped("static sign model produced no output")
	}
	o.models.recordSuccess(modelStaticSign)

	pred := perceive.Top1(scores, static.Config().Classes)
	smoothed, ok := o.smoother.Observe(pred)
	if !ok {
		res := skipped("awaiting temporal consensus")
		res.Latency.PreprocessMs = prepMs
		return res
	}
	if smoothed.Confidence < o.cfg.Models.StaticSign.ConfidenceThreshold {
		res := skipped("below confidence threshold")
		res.Latency.PreprocessMs = prepMs
		return res
	}

	sign := &SignResult{Static: smoothed, Message: smoothed.Label}
	if dynamic != nil && dynamicT != nil {
		if err := perceive.ValidateInput(dynamic.Config(), dynamicT); err != nil {
			return errorResult(err.Error())
		}
		dscores, err := dynamic.Classify(ctx, dynamicT)
		if err != nil {
			o.models.recordFailure(modelDynamicSign, err)
		} else {
			o.models.recordSuccess(modelDynamicSign)
			d := perceive.Top1(dscores, dynamic.Config().Classes)
			if d.Class >= 0 && d.Confidence >= o.cfg.Models.DynamicSign.ConfidenceThreshold {
				sign.Dynamic = &d
				sign.Message = d.Label
			}
		}
	}
	infMs := float64(time.Since(infStart)) / float64(time.Millisecond)

	o.announceSign(sign)
	o.persist(resultcache.KindSign, sign)
	return &Result{
		Kind:    KindSign,
		Sign:    sign,
		Latency: Latency{PreprocessMs: prepMs, InferenceMs: infMs},
	}
}

func (o *Orchestrator) processDetection(ctx context.Context, f *frame.Frame) *Result {
	detector, faces := o.models.detectionPorts()
	if detector == nil {
		return skipped("detection models unavailable")
	}

	opt, err := preprocess.ForModel(detector.Config(), nil)
	if err != nil {
		return errorResult(err.Error())
	}
	prepStart := time.Now()
	tensor, err := preprocess.Preprocess(f, opt)
	if err != nil {
		return errorResult(fmt.Sprintf("preprocess: %v", err))
	}
	prepMs := float64(time.Since(prepStart)) / float64(time.Millisecond)

	if err := perceive.ValidateInput(detector.Config(), tensor); err != nil {
		return errorResult(err.Error())
	}

	infStart := time.Now()
	detections, err := detector.Detect(ctx, tensor)
	if err != nil {
		o.models.recordFailure(modelObjects, err)
		res := skipped("object detector produced no output")
		res.Latency.PreprocessMs = prepMs
		return res
	}
	o.models.recordSuccess(modelObjects)

	kept := make([]perceive.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence >= o.cfg.Models.Objects.ConfidenceThreshold {
			kept = append(kept, d)
		}
	}

	rawDistance := make([]float32, len(kept))
	for i := range kept {
		rawDistance[i] = estimateDistance(&o.cfg.Detection, kept[i].Label, kept[i].Box.Height)
	}
	smoothedDistance := o.tracker.update(kept, rawDistance)

	objects := make([]DetectedObject, len(kept))
	for i := range kept {
		objects[i] = DetectedObject{Detection: kept[i], DistanceMeters: smoothedDistance[i]}
	}
	result := &DetectionResult{Objects: objects}

	// Face matching is restricted to the best-scoring detected person.
	if faces != nil {
		best := -1
		for i := range objects {
			if objects[i].Label == "person" && (best == -1 || objects[i].Confidence > objects[best].Confidence) {
				best = i
			}
		}
		if best != -1 {
			match, err := faces.Match(ctx, tensor, objects[best].Box)
			if err != nil {
				o.models.recordFailure(modelFaces, err)
			} else {
				o.models.recordSuccess(modelFaces)
				result.Face = match
			}
		}
	}
	infMs := float64(time.Since(infStart)) / float64(time.Millisecond)

	o.maybeDumpFrame(tensor, nil, objects, "detection")

	if len(objects) > 0 {
		o.announceDetections(result)
		o.persist(resultcache.KindDetection, result)
	}
	return &Result{
		Kind:      KindDetection,
		Detection: result,
		Latency:   Latency{PreprocessMs: prepMs, InferenceMs: infMs},
	}
}

func (o *Orchestrator) announceSign(sign *SignResult) {
	if o.alerts == nil {
		return
	}
	text, key := alert.SignAlert(sign.Message)
	o.alerts.Enqueue(alert.Item{
		Text:         text,
		Priority:     alert.PriorityNormal,
		CacheKey:     key,
		DedupeWindow: o.cfg.Alerts.SignWindow.Get(),
	})
}

// announceDetections speaks the nearest objects, up to maxAlertsPerFrame,
// skipping anything estimated beyond the announcement range.
func (o *Orchestrator) announceDetections(result *DetectionResult) {
	if o.alerts == nil {
		return
	}
	candidates := make([]DetectedObject, 0, len(result.Objects))
	for _, obj := range result.Objects {
		if obj.DistanceMeters <= o.cfg.Detection.MaxDistanceMeters {
			candidates = append(candidates, obj)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].DistanceMeters < candidates[j].DistanceMeters
	})
	if len(candidates) > o.cfg.Alerts.MaxAlertsPerFrame {
		candidates = candidates[:o.cfg.Alerts.MaxAlertsPerFrame]
	}
	for _, obj := range candidates {
		text, key := alert.ObjectAlert(obj.Label, obj.Box.Center().X, obj.DistanceMeters)
		o.alerts.Enqueue(alert.Item{
			Text:         text,
			Priority:     alert.PriorityNormal,
			CacheKey:     key,
			DedupeWindow: o.cfg.Alerts.ObjectWindow.Get(),
		})
	}
	if result.Face != nil {
		text, key := alert.FaceAlert(result.Face.Name)
		o.alerts.Enqueue(alert.Item{
			Text:         text,
			Priority:     alert.PriorityNormal,
			CacheKey:     key,
			DedupeWindow: o.cfg.Alerts.ObjectWindow.Get(),
		})
	}
}

// persist queues a significant result for best-effort storage, keyed by a
// hash of its serialized payload. Failures are logged inside the cache and
// never affect the frame result.
func (o *Orchestrator) persist(kind string, payload any) {
	if o.cache == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		o.log.Errorf("Failed to serialize %v result: %v", kind, err)
		return
	}
	o.cache.PutAsync(resultcache.KeyOf(b), kind, string(b))
}
