package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the yaml configuration file at path, applies defaults for
// anything left unset, and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a yaml config from r. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.TargetFPS <= 0 || cfg.TargetFPS > 60 {
		errs = append(errs, fmt.Errorf("target_fps %v is out of range [1, 60]", cfg.TargetFPS))
	}
	if cfg.SmoothingWindow < 3 || cfg.SmoothingWindow > 30 {
		errs = append(errs, fmt.Errorf("smoothing_window %v is out of range [3, 30]", cfg.SmoothingWindow))
	}
	if cfg.MinConsistentFrames < 1 || cfg.MinConsistentFrames > cfg.SmoothingWindow {
		errs = append(errs, fmt.Errorf("min_consistent_frames %v must be in [1, smoothing_window]", cfg.MinConsistentFrames))
	}

	checkThreshold := func(name string, m ModelConfig) {
		if m.ConfidenceThreshold < 0 || m.ConfidenceThreshold > 1 {
			errs = append(errs, fmt.Errorf("models.%v.confidence_threshold %v is out of range [0, 1]", name, m.ConfidenceThreshold))
		}
	}
	checkThreshold("static_sign", cfg.Models.StaticSign)
	checkThreshold("dynamic_sign", cfg.Models.DynamicSign)
	checkThreshold("objects", cfg.Models.Objects)
	checkThreshold("faces", cfg.Models.Faces)
	checkThreshold("sound", cfg.Models.Sound)
	if cfg.Models.LoadTimeout.Get() <= 0 {
		errs = append(errs, fmt.Errorf("models.load_timeout must be positive"))
	}

	if cfg.Alerts.MaxAlertsPerFrame < 1 {
		errs = append(errs, fmt.Errorf("alerts.max_alerts_per_frame %v must be at least 1", cfg.Alerts.MaxAlertsPerFrame))
	}
	if cfg.Alerts.Retention.Get() <= 0 {
		errs = append(errs, fmt.Errorf("alerts.retention must be positive"))
	}
	for name, w := range map[string]Duration{
		"sign_window":   cfg.Alerts.SignWindow,
		"object_window": cfg.Alerts.ObjectWindow,
		"sound_window":  cfg.Alerts.SoundWindow,
	} {
		if w.Get() <= 0 {
			errs = append(errs, fmt.Errorf("alerts.%v must be positive", name))
		}
	}

	if cfg.Detection.FocalFactor <= 0 {
		errs = append(errs, fmt.Errorf("detection.focal_factor must be positive"))
	}
	if cfg.Detection.DefaultHeight <= 0 {
		errs = append(errs, fmt.Errorf("detection.default_height must be positive"))
	}
	if cfg.Detection.MaxDistanceMeters <= 0 {
		errs = append(errs, fmt.Errorf("detection.max_distance_meters must be positive"))
	}

	return errors.Join(errs...)
}
