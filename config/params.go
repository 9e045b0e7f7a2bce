package config

import (
	"fmt"
	"math"
	"os"
)

// PulseDistance is the stage travel per motor pulse, in mm.  It is a property
// of the mechanics and the only accepted value of Params.PulseDistance.
const PulseDistance = 0.0196

// Lamp selectors
const (
	LampFirst  = 0
	LampSecond = 1
	LampBoth   = 2
)

// Params is the parameter set of one measurement.  Keys keep the names used
// by existing script.txt files.
type Params struct {
	// SMPD is the controller sampling parameter pushed at startup
	SMPD int `koanf:"smpd" yaml:"smpd"`

	// Gain is the sensor gain, 1..32
	Gain int `koanf:"gain" yaml:"gain"`

	// Exposure is the sensor exposure in ms, adjusted by autoscaling
	Exposure int `koanf:"exp" yaml:"exp"`

	// SamplingWavelength is the wavelength whose intensity is reported per point, nm
	SamplingWavelength float64 `koanf:"sampling_wavelength" yaml:"sampling_wavelength"`

	// PulseDistance is mm of travel per pulse
	PulseDistance float64 `koanf:"pulse_distance" yaml:"pulse_distance"`

	PulsesPerPoint int `koanf:"no_of_pulse_per_point" yaml:"no_of_pulse_per_point"`
	PointsPerCycle int `koanf:"no_of_point_per_cycle" yaml:"no_of_point_per_cycle"`
	Cycles         int `koanf:"np_of_cycle" yaml:"np_of_cycle"`

	// Offset is the travel before the first point, mm
	Offset float64 `koanf:"offset" yaml:"offset"`

	// WaitTime is the pause after lamp on, seconds
	WaitTime int `koanf:"wait_time" yaml:"wait_time"`

	// Lamp is the lamp selector: 0, 1, or 2 for both
	Lamp int `koanf:"lamp" yaml:"lamp"`

	// FilePath is the directory receiving the command script and reports
	FilePath string `koanf:"filepath" yaml:"filepath"`

	// DistanceToHeight converts travel to height for the Z coordinate
	DistanceToHeight float64 `koanf:"distance_to_height" yaml:"distance_to_height"`

	// Average and Drop are the frame counts averaged and discarded per point
	Average int `koanf:"no_of_average" yaml:"no_of_average"`
	Drop    int `koanf:"no_of_drop" yaml:"no_of_drop"`

	// BaselineStart and BaselineEnd bound the dark reference band, nm
	BaselineStart float64 `koanf:"baseline_start" yaml:"baseline_start"`
	BaselineEnd   float64 `koanf:"baseline_end" yaml:"baseline_end"`

	// Autoscaling enables the single-point exposure controller
	Autoscaling bool `koanf:"autoscaling" yaml:"autoscaling"`

	AutoscaleWavelength float64 `koanf:"autoscaling_wavelength" yaml:"autoscaling_wavelength"`
	AutoscaleIntensity  float64 `koanf:"autoscaling_intensity" yaml:"autoscaling_intensity"`
	AutoscaleTolerance  float64 `koanf:"autoscaling_threshold" yaml:"autoscaling_threshold"`

	// AutoscalePosition is where autoscaling measures, mm from origin
	AutoscalePosition float64 `koanf:"autoscaling_position" yaml:"autoscaling_position"`

	// AutoscaleRepeats drives the averaging variant; 0 disables it
	AutoscaleRepeats int `koanf:"number_of_autoscaling" yaml:"number_of_autoscaling"`
}

// DefaultParams returns a parameter set that passes validation
func DefaultParams() Params {
	return Params{
		SMPD:                10,
		Gain:                1,
		Exposure:            100,
		SamplingWavelength:  850,
		PulseDistance:       PulseDistance,
		PulsesPerPoint:      50,
		PointsPerCycle:      10,
		Cycles:              1,
		WaitTime:            2,
		Lamp:                LampFirst,
		FilePath:            ".",
		DistanceToHeight:    1,
		Average:             1,
		Drop:                1,
		BaselineStart:       940,
		BaselineEnd:         960,
		AutoscaleWavelength: 850,
		AutoscaleIntensity:  2000,
		AutoscaleTolerance:  100,
		AutoscalePosition:   10,
	}
}

// ValidationError names the offending key
type ValidationError struct {
	Key    string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

func inRange(key string, v, lo, hi int) error {
	if v < lo || v > hi {
		return ValidationError{Key: key, Reason: fmt.Sprintf("must be in [%d, %d], got %d", lo, hi, v)}
	}
	return nil
}

// Validate range-checks every field.  The measurement core assumes it has
// been called.
func (p Params) Validate() error {
	checks := []error{
		inRange("smpd", p.SMPD, 4, 20),
		inRange("gain", p.Gain, 1, 32),
		inRange("exp", p.Exposure, 1, 899),
		inRange("no_of_average", p.Average, 1, 32),
		inRange("no_of_drop", p.Drop, 1, 32),
		inRange("lamp", p.Lamp, LampFirst, LampBoth),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if math.Abs(p.PulseDistance-PulseDistance) > 1e-12 {
		return ValidationError{Key: "pulse_distance", Reason: fmt.Sprintf("must be %g", PulseDistance)}
	}
	if p.Cycles < 1 {
		return ValidationError{Key: "np_of_cycle", Reason: "must be at least 1"}
	}
	if p.PointsPerCycle < 1 {
		return ValidationError{Key: "no_of_point_per_cycle", Reason: "must be at least 1"}
	}
	if p.PulsesPerPoint < 0 {
		return ValidationError{Key: "no_of_pulse_per_point", Reason: "must not be negative"}
	}
	if p.WaitTime <= 0 {
		return ValidationError{Key: "wait_time", Reason: "must be positive"}
	}
	if p.Offset < 0 {
		return ValidationError{Key: "offset", Reason: "must not be negative"}
	}
	if p.BaselineEnd < p.BaselineStart {
		return ValidationError{Key: "baseline_end", Reason: "must not be below baseline_start"}
	}
	if p.AutoscaleRepeats < 0 {
		return ValidationError{Key: "number_of_autoscaling", Reason: "must not be negative"}
	}
	fi, err := os.Stat(p.FilePath)
	if err != nil || !fi.IsDir() {
		return ValidationError{Key: "filepath", Reason: fmt.Sprintf("%q is not an existing directory", p.FilePath)}
	}
	return nil
}

// PulsesFor converts a distance in mm to whole pulses, truncating
func (p Params) PulsesFor(mm float64) int {
	return int(mm / p.PulseDistance)
}

// PointSpacing is the travel between points, mm
func (p Params) PointSpacing() float64 {
	return float64(p.PulsesPerPoint) * p.PulseDistance
}

// Coordinates returns the X and Z position of point k (1-based), mm
func (p Params) Coordinates(k int) (x, z float64) {
	d := p.PointSpacing()
	x = p.Offset + float64(k)*d
	z = float64(k)*p.DistanceToHeight*d + p.Offset*p.DistanceToHeight
	return x, z
}
