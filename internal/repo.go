package swingsense

import (
	"fmt"
	"math"
	"sync"
)

// Config represents the detector configuration
type Config struct {
	Active               bool    `json:"active"`
	Swap                 bool    `json:"swap"`
	Offset               float64 `json:"offset"`
	ApogeeSpeedThreshold float64 `json:"apogee-speed-threshold"`
	InertRange           float64 `json:"inert-range"`
	ResetRange           float64 `json:"reset-range"`

	// Forwarded to the remote detector process only.
	Camera  int  `json:"camera"`
	Display bool `json:"display"`
}

// DefaultConfig returns the tunables the detector starts with.
func DefaultConfig() Config {
	return Config{
		Active:               true,
		Swap:                 true,
		Offset:               0,
		ApogeeSpeedThreshold: 0.1,
		InertRange:           0.15,
		ResetRange:           0.1,
	}
}

// ConfigError reports a rejected configuration value.
type ConfigError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func checkRange(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ConfigError{Field: field, Value: v, Reason: "must be finite"}
	}
	if v < 0 {
		return &ConfigError{Field: field, Value: v, Reason: "must not be negative"}
	}
	return nil
}

func checkOrdering(inert, reset float64) error {
	if reset > inert {
		return &ConfigError{Field: "reset-range", Value: reset, Reason: fmt.Sprintf("must not exceed inert-range %v", inert)}
	}
	return nil
}

// Validate checks every tunable and the reset/inert ordering.
func (c Config) Validate() error {
	if math.IsNaN(c.Offset) || math.IsInf(c.Offset, 0) {
		return &ConfigError{Field: "offset", Value: c.Offset, Reason: "must be finite"}
	}
	if err := checkRange("apogee-speed-threshold", c.ApogeeSpeedThreshold); err != nil {
		return err
	}
	if err := checkRange("inert-range", c.InertRange); err != nil {
		return err
	}
	if err := checkRange("reset-range", c.ResetRange); err != nil {
		return err
	}
	if c.Camera < 0 {
		return &ConfigError{Field: "camera", Value: float64(c.Camera), Reason: "must not be negative"}
	}
	return checkOrdering(c.InertRange, c.ResetRange)
}

// Changes lists the fields that differ between two configs, keyed by the
// field names the remote detector uses in updateConfig payloads.
func (c Config) Changes(prev Config) map[string]interface{} {
	changes := map[string]interface{}{}
	if c.Active != prev.Active {
		changes["active"] = c.Active
	}
	if c.Swap != prev.Swap {
		changes["swap"] = c.Swap
	}
	if c.Offset != prev.Offset {
		changes["offset"] = c.Offset
	}
	if c.ApogeeSpeedThreshold != prev.ApogeeSpeedThreshold {
		changes["apogeeSpeedThreshold"] = c.ApogeeSpeedThreshold
	}
	if c.InertRange != prev.InertRange {
		changes["inertRange"] = c.InertRange
	}
	if c.ResetRange != prev.ResetRange {
		changes["resetRange"] = c.ResetRange
	}
	if c.Camera != prev.Camera {
		changes["camera"] = c.Camera
	}
	if c.Display != prev.Display {
		changes["display"] = c.Display
	}
	return changes
}

// repo holds what the API serves: config snapshot, latest telemetry and preview.
type repo struct {
	mu        sync.RWMutex
	config    Config
	telemetry *Output
	preview   []byte
}

func (r *repo) saveConfig(cfg Config) {
	r.mu.Lock()
	r.config = cfg
	r.mu.Unlock()
}

func (r *repo) loadConfig() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

func (r *repo) saveTelemetry(o Output) {
	r.mu.Lock()
	r.telemetry = &o
	r.mu.Unlock()
}

func (r *repo) loadTelemetry() (Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.telemetry == nil {
		return Output{}, false
	}
	return *r.telemetry, true
}

func (r *repo) savePreview(jpeg []byte) {
	r.mu.Lock()
	r.preview = jpeg
	r.mu.Unlock()
}

func (r *repo) loadPreview() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.preview
}
