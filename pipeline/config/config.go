// Package config holds the recognized configuration surface of the
// pipeline. Everything here is a tunable, not a physical constant: the
// per-model confidence thresholds in particular are inherited defaults
// with no calibration rationale behind them.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from yaml strings like "3s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

func (d Duration) Get() time.Duration {
	return time.Duration(d)
}

// ModelConfig configures one perception model.
type ModelConfig struct {
	// Path of the model weights; the JSON input/output contract is
	// expected alongside with a .json extension.
	File string `yaml:"file"`

	// Minimum confidence for a prediction to count. Zero = model default.
	ConfidenceThreshold float32 `yaml:"confidence_threshold"`
}

type ModelsConfig struct {
	StaticSign  ModelConfig `yaml:"static_sign"`
	DynamicSign ModelConfig `yaml:"dynamic_sign"`
	Objects     ModelConfig `yaml:"objects"`
	Faces       ModelConfig `yaml:"faces"`
	Sound       ModelConfig `yaml:"sound"`

	// Fatal load timeout. A model that takes longer than this is treated
	// as failed rather than left hanging.
	LoadTimeout Duration `yaml:"load_timeout"`
}

type AlertsConfig struct {
	// Dedupe windows per alert type: a semantically identical alert is
	// suppressed if spoken again within this window.
	SignWindow   Duration `yaml:"sign_window"`
	ObjectWindow Duration `yaml:"object_window"`
	SoundWindow  Duration `yaml:"sound_window"`

	// Dedupe cache entries older than this are expired to bound growth.
	Retention Duration `yaml:"retention"`

	MaxAlertsPerFrame int `yaml:"max_alerts_per_frame"`
}

type DetectionConfig struct {
	// Pinhole constant for distance estimation from normalized box height.
	FocalFactor float32 `yaml:"focal_factor"`

	// Assumed real-world heights (meters) per class label.
	ClassHeights map[string]float32 `yaml:"class_heights"`

	// Default height for classes not listed above.
	DefaultHeight float32 `yaml:"default_height"`

	// Objects estimated farther than this are not announced.
	MaxDistanceMeters float32 `yaml:"max_distance_meters"`
}

type SoundConfig struct {
	// Labels announced at high priority (eg "fire_alarm", "siren").
	CriticalLabels []string `yaml:"critical_labels"`
}

type Config struct {
	TargetFPS           int             `yaml:"target_fps"`
	SmoothingWindow     int             `yaml:"smoothing_window"`
	MinConsistentFrames int             `yaml:"min_consistent_frames"`
	Models              ModelsConfig    `yaml:"models"`
	Alerts              AlertsConfig    `yaml:"alerts"`
	Detection           DetectionConfig `yaml:"detection"`
	Sound               SoundConfig     `yaml:"sound"`

	// Write one annotated JPEG of the first preprocessed frame per
	// session, for eyeballing the preprocessing chain.
	DebugDumpFrames bool `yaml:"debug_dump_frames"`
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	return &Config{
		TargetFPS:           10,
		SmoothingWindow:     5,
		MinConsistentFrames: 3,
		Models: ModelsConfig{
			StaticSign:  ModelConfig{ConfidenceThreshold: 0.85},
			DynamicSign: ModelConfig{ConfidenceThreshold: 0.80},
			Objects:     ModelConfig{ConfidenceThreshold: 0.60},
			Faces:       ModelConfig{ConfidenceThreshold: 0.70},
			Sound:       ModelConfig{ConfidenceThreshold: 0.70},
			LoadTimeout: Duration(30 * time.Second),
		},
		Alerts: AlertsConfig{
			SignWindow:        Duration(10 * time.Second),
			ObjectWindow:      Duration(3 * time.Second),
			SoundWindow:       Duration(5 * time.Second),
			Retention:         Duration(2 * time.Minute),
			MaxAlertsPerFrame: 1,
		},
		Detection: DetectionConfig{
			FocalFactor:       1.4,
			ClassHeights:      map[string]float32{"person": 1.7},
			DefaultHeight:     0.5,
			MaxDistanceMeters: 12,
		},
		Sound: SoundConfig{
			CriticalLabels: []string{"fire_alarm", "smoke_alarm", "siren"},
		},
	}
}
