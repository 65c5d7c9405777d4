package swingsense

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	log "github.com/inconshreveable/log15"
)

// How long the signal has to stay inside the reset range before both sides rearm
const resetDelay = 500 * time.Millisecond

// ErrNonFinite is returned for NaN or infinite samples.
var ErrNonFinite = errors.New("sample is not a finite number")

// Side is the half of the swing a value lies in.
type Side int8

const (
	SideNone  Side = 0
	SideFront Side = -1
	SideBack  Side = 1
)

func sideOf(v float64) Side {
	if v < 0 {
		return SideFront
	}
	return SideBack
}

func (s Side) String() string {
	switch s {
	case SideFront:
		return "front"
	case SideBack:
		return "back"
	}
	return ""
}

// MarshalJSON encodes SideNone as null.
func (s Side) MarshalJSON() ([]byte, error) {
	if s == SideNone {
		return []byte("null"), nil
	}
	return json.Marshal(s.String())
}

// Output is emitted for every processed sample.
type Output struct {
	Value         float64
	AbsValue      float64
	DeltaTime     float64 // milliseconds, +Inf on the first sample
	Speed         float64 // NaN on the first sample
	Apogee        Side    // SideNone unless an apogee fired on this sample
	Side          Side
	SmoothedValue float64
	SmoothedSpeed float64

	// Raw value at which the current lock was set, nil when unlocked.
	LockedApogeeValue *float64
}

// MarshalJSON writes non-finite numbers as null.
func (o Output) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value             *float64 `json:"value"`
		AbsValue          *float64 `json:"absValue"`
		DeltaTime         *float64 `json:"deltaTime"`
		Speed             *float64 `json:"speed"`
		Apogee            Side     `json:"apogee"`
		Side              Side     `json:"side"`
		SmoothedValue     *float64 `json:"smoothedValue"`
		SmoothedSpeed     *float64 `json:"smoothedSpeed"`
		LockedApogeeValue *float64 `json:"lockedApogeeValue"`
	}{
		finite(o.Value),
		finite(o.AbsValue),
		finite(o.DeltaTime),
		finite(o.Speed),
		o.Apogee,
		o.Side,
		finite(o.SmoothedValue),
		finite(o.SmoothedSpeed),
		o.LockedApogeeValue,
	})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Sink receives every output record, synchronously.
type Sink func(Output)

// Windows sets the capacities of the two smoothing filters.
type Windows struct {
	Value int
	Speed int
}

// DefaultWindows matches the capacities the detector was tuned with.
var DefaultWindows = Windows{Value: 10, Speed: 10}

// SwingDetector turns position samples into apogee events. It is not safe
// for concurrent use; see Station.
type SwingDetector struct {
	config Config
	values *WindowedAverager
	speeds *WindowedAverager
	sink   Sink
	log    log.Logger

	prevValue    float64
	hasPrevValue bool
	prevTime     time.Time
	hasPrevTime  bool

	lockedSide   Side
	lockedApogee float64

	resetStart   time.Time
	resetRunning bool
}

// NewSwingDetector creates a detector. sink may be nil.
func NewSwingDetector(cfg Config, windows Windows, sink Sink) (*SwingDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SwingDetector{
		config: cfg,
		values: NewWindowedAverager(windows.Value),
		speeds: NewWindowedAverager(windows.Speed),
		sink:   sink,
		log:    log.New("module", "detector"),
	}, nil
}

// ProcessSample runs one sample taken at now through the pipeline. It
// returns false when the detector is inactive or the sample is not finite;
// in both cases no state changes.
func (d *SwingDetector) ProcessSample(raw float64, now time.Time) (Output, bool) {
	if !d.config.Active {
		return Output{}, false
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		d.log.Debug("Dropping sample", "raw", raw, "error", ErrNonFinite)
		return Output{}, false
	}

	value := raw
	if d.config.Swap {
		value = -value
	}
	value -= d.config.Offset

	deltaTime := math.Inf(1)
	if d.hasPrevTime {
		deltaTime = float64(now.Sub(d.prevTime)) / float64(time.Millisecond)
	}
	d.prevTime = now
	d.hasPrevTime = true

	d.values.Push(value)
	smoothedValue := d.values.Mean()

	// Lagging smoothed baseline against the current raw value.
	speed := math.NaN()
	if d.hasPrevValue {
		speed = (d.prevValue - value) / deltaTime
		d.speeds.Push(speed)
	}
	direction := sign(speed)
	absValue := math.Abs(value)
	side := sideOf(value)
	smoothedSpeed := d.speeds.Mean()

	apogee := SideNone
	if absValue > d.config.InertRange && d.lockedSide != side {
		if math.Abs(speed) > d.config.ApogeeSpeedThreshold && direction == side {
			d.lockedSide = side
			d.lockedApogee = value
			apogee = side
			d.log.Info("Apogee", "side", side, "value", value, "speed", speed)
		}
	}

	if absValue < d.config.ResetRange {
		if !d.resetRunning {
			d.resetStart = now
			d.resetRunning = true
		}
		if now.Sub(d.resetStart) > resetDelay && d.lockedSide != SideNone {
			d.log.Debug("Rearmed", "side", d.lockedSide)
			d.unlock()
		}
	} else {
		d.resetRunning = false
	}

	out := Output{
		Value:         value,
		AbsValue:      absValue,
		DeltaTime:     deltaTime,
		Speed:         speed,
		Apogee:        apogee,
		Side:          side,
		SmoothedValue: smoothedValue,
		SmoothedSpeed: smoothedSpeed,
	}
	if v, ok := d.LockedApogee(); ok {
		out.LockedApogeeValue = &v
	}
	if d.sink != nil {
		d.sink(out)
	}

	d.prevValue = smoothedValue
	d.hasPrevValue = true
	return out, true
}

func (d *SwingDetector) unlock() {
	d.lockedSide = SideNone
	d.lockedApogee = 0
}

func sign(v float64) Side {
	switch {
	case v > 0:
		return SideBack
	case v < 0:
		return SideFront
	}
	return SideNone
}

// LockedSide returns the side that has used up its apogee.
func (d *SwingDetector) LockedSide() Side { return d.lockedSide }

// LockedApogee returns the raw value the current lock was set at.
func (d *SwingDetector) LockedApogee() (float64, bool) {
	if d.lockedSide == SideNone {
		return 0, false
	}
	return d.lockedApogee, true
}

// Config returns a copy of the current configuration.
func (d *SwingDetector) Config() Config { return d.config }

// ApplyConfig replaces the whole configuration if it validates.
func (d *SwingDetector) ApplyConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.config = cfg
	return nil
}

func (d *SwingDetector) Active() bool                  { return d.config.Active }
func (d *SwingDetector) Swap() bool                    { return d.config.Swap }
func (d *SwingDetector) Offset() float64               { return d.config.Offset }
func (d *SwingDetector) ApogeeSpeedThreshold() float64 { return d.config.ApogeeSpeedThreshold }
func (d *SwingDetector) InertRange() float64           { return d.config.InertRange }
func (d *SwingDetector) ResetRange() float64           { return d.config.ResetRange }

// SetActive pauses or resumes processing. State is kept while paused.
func (d *SwingDetector) SetActive(active bool) { d.config.Active = active }

// SetSwap inverts the sign of subsequent raw samples.
func (d *SwingDetector) SetSwap(swap bool) { d.config.Swap = swap }

func (d *SwingDetector) SetOffset(offset float64) error {
	if math.IsNaN(offset) || math.IsInf(offset, 0) {
		return &ConfigError{Field: "offset", Value: offset, Reason: "must be finite"}
	}
	d.config.Offset = offset
	return nil
}

func (d *SwingDetector) SetApogeeSpeedThreshold(v float64) error {
	if err := checkRange("apogee-speed-threshold", v); err != nil {
		return err
	}
	d.config.ApogeeSpeedThreshold = v
	return nil
}

// SetInertRange fails if v would drop below the reset range.
func (d *SwingDetector) SetInertRange(v float64) error {
	if err := checkRange("inert-range", v); err != nil {
		return err
	}
	if v < d.config.ResetRange {
		return &ConfigError{Field: "inert-range", Value: v, Reason: "must not be below reset-range"}
	}
	d.config.InertRange = v
	return nil
}

// SetResetRange fails if v would exceed the inert range.
func (d *SwingDetector) SetResetRange(v float64) error {
	if err := checkRange("reset-range", v); err != nil {
		return err
	}
	if err := checkOrdering(d.config.InertRange, v); err != nil {
		return err
	}
	d.config.ResetRange = v
	return nil
}
