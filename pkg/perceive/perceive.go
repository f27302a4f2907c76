package perceive

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"
)

// Package perceive is the boundary layer between the pipeline and any
// specific perception model's forward pass. Models are opaque scoring
// functions behind the Classifier/Detector/FaceMatcher interfaces, loaded
// by the host application (eg a tflite or ncnn binding).

// TensorType is the element type of a packed input tensor.
type TensorType int

const (
	TensorU8  TensorType = iota // 8-bit unsigned, for quantized models
	TensorF32                   // 32-bit float, normalized
)

// Tensor is a flat numeric buffer plus the logical shape it was packed for.
// Exactly one of U8/F32 is populated, matching DType.
// A tensor is owned by the call that produced it, consumed once by a
// scoring port, and then discarded.
type Tensor struct {
	DType    TensorType
	U8       []byte
	F32      []float32
	Width    int
	Height   int
	Channels int
}

// NumElements returns Width*Height*Channels.
func (t *Tensor) NumElements() int {
	return t.Width * t.Height * t.Channels
}

// Prediction is a single per-frame, per-model classification output.
type Prediction struct {
	Class      int     `json:"class"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// SmoothedPrediction has the same shape as Prediction, but is a multi-frame
// consensus emitted by the temporal smoother.
type SmoothedPrediction struct {
	Class      int     `json:"class"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// Detection is a single object found by an object detection model.
type Detection struct {
	Class      int     `json:"class"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"` // Normalized to [0,1] in both axes
}

// FaceMatch is the output of a face matcher run against a detected person.
type FaceMatch struct {
	Name       string  `json:"name"`
	Confidence float32 `json:"confidence"`
}

// ModelConfig is saved in a JSON file alongside the weights of a model,
// and declares the model's input/output contract.
type ModelConfig struct {
	Architecture string     `json:"architecture"` // eg "mobilenetv2", "yolov5s", "lstm64"
	Width        int        `json:"width"`        // Input width, eg 224
	Height       int        `json:"height"`       // Input height, eg 224
	DType        TensorType `json:"dtype"`        // Expected input element type
	OutputLength int        `json:"outputLength"` // Length of the raw score vector
	Classes      []string   `json:"classes"`      // Class labels, len == OutputLength for classifiers
}

// Classifier scores a single input tensor and returns a raw score vector
// of length Config().OutputLength.
type Classifier interface {
	// Classify runs one forward pass. The tensor must match the declared
	// input contract; a shape mismatch is a load-time error, not a
	// per-call one.
	Classify(ctx context.Context, t *Tensor) ([]float32, error)

	// Config remains constant for the lifetime of the port.
	Config() *ModelConfig

	// Close releases the underlying model. Must be called when finished.
	Close()
}

// Detector returns zero or more detected objects for an input tensor.
type Detector interface {
	Detect(ctx context.Context, t *Tensor) ([]Detection, error)
	Config() *ModelConfig
	Close()
}

// FaceMatcher matches the face inside 'region' of the input tensor against
// an enrolled gallery. A nil FaceMatch with nil error means "nobody we know".
type FaceMatcher interface {
	Match(ctx context.Context, t *Tensor, region Rect) (*FaceMatch, error)
	Close()
}

// ValidateInput checks a tensor against a model's declared input contract.
// Returns a ModelLoadError on mismatch, because a disagreement between the
// preprocessor and the model config is a setup bug, not a runtime condition.
func ValidateInput(cfg *ModelConfig, t *Tensor) error {
	if t.Width != cfg.Width || t.Height != cfg.Height || t.Channels != 3 {
		return &ModelLoadError{
			Model:  cfg.Architecture,
			Reason: "input tensor shape does not match model config",
		}
	}
	if t.DType != cfg.DType {
		return &ModelLoadError{
			Model:  cfg.Architecture,
			Reason: "input tensor dtype does not match model config",
		}
	}
	return nil
}

// TopK returns the k highest-scoring classes as Predictions, best first.
// Labels beyond len(labels) get an empty label rather than panicking.
func TopK(scores []float32, labels []string, k int) []Prediction {
	if k > len(scores) {
		k = len(scores)
	}
	preds := make([]Prediction, 0, k)
	used := make([]bool, len(scores))
	for n := 0; n < k; n++ {
		best := -1
		for i, s := range scores {
			if used[i] {
				continue
			}
			if best == -1 || s > scores[best] {
				best = i
			}
		}
		if best == -1 {
			break
		}
		used[best] = true
		label := ""
		if best < len(labels) {
			label = labels[best]
		}
		preds = append(preds, Prediction{Class: best, Label: label, Confidence: scores[best]})
	}
	return preds
}

// Top1 is TopK(scores, labels, 1), or a zero Prediction for an empty vector.
func Top1(scores []float32, labels []string) Prediction {
	top := TopK(scores, labels, 1)
	if len(top) == 0 {
		return Prediction{Class: -1}
	}
	return top[0]
}

// LoadModelConfig reads a model's JSON config from disk.
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	if err := json.Unmarshal(b, config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadClassFile loads a text file with one class name per line.
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, nil
}
