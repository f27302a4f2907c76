package orchestrator

import "github.com/sightlineapp/sightline/pkg/perceive"

// Mode is the active operating mode. Camera frames are only consumed in
// Translation and Detection; Sound runs on the listener path, and
// Dashboard/Chat don't touch the pipeline.
type Mode int

const (
	ModeDashboard Mode = iota
	ModeTranslation
	ModeDetection
	ModeSound
	ModeChat
)

func (m Mode) String() string {
	switch m {
	case ModeDashboard:
		return "dashboard"
	case ModeTranslation:
		return "translation"
	case ModeDetection:
		return "detection"
	case ModeSound:
		return "sound"
	case ModeChat:
		return "chat"
	}
	return "unknown"
}

// ResultKind is the active variant of a Result.
type ResultKind int

const (
	KindSkipped ResultKind = iota
	KindSign
	KindDetection
	KindError
)

// Latency of one scoring pass, in milliseconds.
type Latency struct {
	PreprocessMs float64 `json:"preprocessMs"`
	InferenceMs  float64 `json:"inferenceMs"`
	TotalMs      float64 `json:"totalMs"`
}

// SignResult is the merged output of the static and dynamic sign models.
// Message is what gets spoken; a confident dynamic prediction overrides the
// static one.
type SignResult struct {
	Static  perceive.SmoothedPrediction `json:"static"`
	Dynamic *perceive.Prediction        `json:"dynamic,omitempty"`
	Message string                      `json:"message"`
}

// DetectedObject is a detection annotated with its smoothed real-world
// distance estimate.
type DetectedObject struct {
	perceive.Detection
	DistanceMeters float32 `json:"distanceMeters"`
}

// DetectionResult is the merged output of the object detector and (when a
// person is present) the face matcher.
type DetectionResult struct {
	Objects []DetectedObject   `json:"objects"`
	Face    *perceive.FaceMatch `json:"face,omitempty"`
}

// Result is produced for every frame handed to the orchestrator. Exactly
// one variant is active, indicated by Kind. Immutable once returned.
type Result struct {
	Kind      ResultKind
	Sign      *SignResult
	Detection *DetectionResult
	Err       string // KindError only
	Reason    string // KindSkipped only
	Latency   Latency
}

func skipped(reason string) *Result {
	return &Result{Kind: KindSkipped, Reason: reason}
}

func errorResult(msg string) *Result {
	return &Result{Kind: KindError, Err: msg}
}
