// Package config loads the measurement parameter set and the instrument
// configuration.
//
// Sources are layered, later ones overriding earlier ones:
//	1.  compiled-in defaults (Default)
//	2.  zero or more YAML files
//	3.  zero or more legacy key=value script files (*.txt), which only carry
//		measurement parameters
//	4.  SCANCTL_* environment variables, with __ separating sections,
//		e.g. SCANCTL_STAGE__ADDR=COM7
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/photonlab/scanctl/comm"
)

// EnvPrefix is the prefix of environment variables that override the config
const EnvPrefix = "SCANCTL_"

// Duration is a time.Duration that reads and writes as "1.5s" in config files
type Duration time.Duration

// D returns the value as a time.Duration
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML satisfies yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// StageConfig holds the connection and protocol policy for the motion/lamp
// controller
type StageConfig struct {
	// Addr is a serial port name (COM7, /dev/ttyUSB0) or host:port
	Addr string `koanf:"addr" yaml:"addr"`

	// Serial selects a serial port (true) or a TCP port server (false)
	Serial bool `koanf:"serial" yaml:"serial"`

	// SerialOpts holds baud rate and framing
	SerialOpts comm.SerialOptions `koanf:"serialopts" yaml:"serialopts"`

	// Timeout is the channel default response timeout
	Timeout Duration `koanf:"timeout" yaml:"timeout"`

	// ExtendedTimeout is used for homing and long moves
	ExtendedTimeout Duration `koanf:"extendedtimeout" yaml:"extendedtimeout"`

	// MaxRetries is the number of re-sends after the first attempt
	MaxRetries int `koanf:"maxretries" yaml:"maxretries"`

	// RetryDelay is the pause between attempts
	RetryDelay Duration `koanf:"retrydelay" yaml:"retrydelay"`

	// FastMode enables fire-and-forget.  Responses are never read; use only
	// when accuracy does not matter.
	FastMode bool `koanf:"fastmode" yaml:"fastmode"`

	// FastSettle is the pause after each fire-and-forget write
	FastSettle Duration `koanf:"fastsettle" yaml:"fastsettle"`

	// LargeMove is the pulse count above which a move gets ExtendedTimeout
	LargeMove int `koanf:"largemove" yaml:"largemove"`

	// Loopback is the link self-test command, which the controller echoes
	Loopback string `koanf:"loopback" yaml:"loopback"`
}

// SpectrometerConfig holds sensor and vendor library settings
type SpectrometerConfig struct {
	// Library is the path to the vendor DLL
	Library string `koanf:"library" yaml:"library"`

	// Source selects the frame source: camera, synthetic, or replay
	Source string `koanf:"source" yaml:"source"`

	// ReplayPath is the FITS cube played back by the replay source
	ReplayPath string `koanf:"replaypath" yaml:"replaypath"`

	// Width and Height are the expected native resolution
	Width  int `koanf:"width" yaml:"width"`
	Height int `koanf:"height" yaml:"height"`

	// ProbeCount is how many capture indices are tried when looking for the sensor
	ProbeCount int `koanf:"probecount" yaml:"probecount"`

	// ROI is the first row of the averaged band, overridden by the device settings
	ROI int `koanf:"roi" yaml:"roi"`

	// ROIRows is the height of the averaged band
	ROIRows int `koanf:"roirows" yaml:"roirows"`

	// WriteSettle is the pause after pushing exposure or gain
	WriteSettle Duration `koanf:"writesettle" yaml:"writesettle"`

	// RequireSettings makes an unreadable settings blob fatal instead of
	// falling back to the default axis
	RequireSettings bool `koanf:"requiresettings" yaml:"requiresettings"`

	// DefaultStart and DefaultEnd bound the fallback linear wavelength axis
	DefaultStart float64 `koanf:"defaultstart" yaml:"defaultstart"`
	DefaultEnd   float64 `koanf:"defaultend" yaml:"defaultend"`
}

// Settle policies for the fixed delays around an acquisition
const (
	SettleAuto   = "auto"
	SettleAlways = "always"
	SettleNever  = "never"
)

// AcquisitionConfig holds timing around sensor reads in the cycle loop
type AcquisitionConfig struct {
	// Settle is the pause before and after each acquisition
	Settle Duration `koanf:"settle" yaml:"settle"`

	// SettlePolicy is auto (only when the controller does not confirm
	// completion), always, or never
	SettlePolicy string `koanf:"settlepolicy" yaml:"settlepolicy"`
}

// AutoscaleConfig holds the fixed limits of the exposure controller
type AutoscaleConfig struct {
	MaxIterations int      `koanf:"maxiterations" yaml:"maxiterations"`
	WarmupReads   int      `koanf:"warmupreads" yaml:"warmupreads"`
	LampWarmup    Duration `koanf:"lampwarmup" yaml:"lampwarmup"`
	MinExposure   int      `koanf:"minexposure" yaml:"minexposure"`
	MaxExposure   int      `koanf:"maxexposure" yaml:"maxexposure"`

	// PositionTimeout bounds the move to the autoscaling position
	PositionTimeout Duration `koanf:"positiontimeout" yaml:"positiontimeout"`

	// MaxRounds bounds the averaging variant; 0 loops until converged or cancelled
	MaxRounds int `koanf:"maxrounds" yaml:"maxrounds"`

	// FallbackExposure substitutes for an operator when autoscaling does not
	// converge and nobody is at the console; 0 keeps the last exposure
	FallbackExposure int `koanf:"fallbackexposure" yaml:"fallbackexposure"`

	// Prompt asks on the console for a manual exposure on non-convergence
	Prompt bool `koanf:"prompt" yaml:"prompt"`
}

// AxisConfig is the canonical wavelength grid
type AxisConfig struct {
	Start float64 `koanf:"start" yaml:"start"`
	Stop  float64 `koanf:"stop" yaml:"stop"`
	Step  float64 `koanf:"step" yaml:"step"`
}

// OutputConfig selects the per-cycle outputs
type OutputConfig struct {
	// Dir is the root of the dated output folders
	Dir string `koanf:"dir" yaml:"dir"`

	// LogDir receives one log file per run
	LogDir string `koanf:"logdir" yaml:"logdir"`

	CSV  bool `koanf:"csv" yaml:"csv"`
	FITS bool `koanf:"fits" yaml:"fits"`
	Plot bool `koanf:"plot" yaml:"plot"`

	// Archive is the path of the SQLite run archive; empty disables it
	Archive string `koanf:"archive" yaml:"archive"`
}

// ServerConfig configures scanctl serve
type ServerConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// Config is the full configuration of one instrument
type Config struct {
	Params       Params             `koanf:"params" yaml:"params"`
	Stage        StageConfig        `koanf:"stage" yaml:"stage"`
	Spectrometer SpectrometerConfig `koanf:"spectrometer" yaml:"spectrometer"`
	Acquisition  AcquisitionConfig  `koanf:"acquisition" yaml:"acquisition"`
	Autoscale    AutoscaleConfig    `koanf:"autoscale" yaml:"autoscale"`
	Spectrum     AxisConfig         `koanf:"spectrum" yaml:"spectrum"`
	Output       OutputConfig       `koanf:"output" yaml:"output"`
	Server       ServerConfig       `koanf:"server" yaml:"server"`

	// Mock replaces the controller and the spectrometer with simulations
	Mock bool `koanf:"mock" yaml:"mock"`
}

// Default returns the compiled-in configuration
func Default() Config {
	return Config{
		Params: DefaultParams(),
		Stage: StageConfig{
			Addr:            "/dev/ttyUSB0",
			Serial:          true,
			SerialOpts:      comm.SerialOptions{Baud: 38400, DataBits: 8, StopBits: 1, Parity: "N"},
			Timeout:         Duration(2 * time.Second),
			ExtendedTimeout: Duration(15 * time.Second),
			MaxRetries:      3,
			RetryDelay:      Duration(500 * time.Millisecond),
			FastSettle:      Duration(500 * time.Millisecond),
			LargeMove:       20,
			Loopback:        "$UARTLOOP#",
		},
		Spectrometer: SpectrometerConfig{
			Library:      filepath.Join("Dll", "SpectroChipsControl.dll"),
			Source:       "camera",
			Width:        1280,
			Height:       800,
			ProbeCount:   5,
			ROI:          470,
			ROIRows:      20,
			WriteSettle:  Duration(100 * time.Millisecond),
			DefaultStart: 350,
			DefaultEnd:   1050,
		},
		Acquisition: AcquisitionConfig{
			Settle:       Duration(200 * time.Millisecond),
			SettlePolicy: SettleAuto,
		},
		Autoscale: AutoscaleConfig{
			MaxIterations:   20,
			WarmupReads:     4,
			LampWarmup:      Duration(15 * time.Second),
			MinExposure:     1,
			MaxExposure:     899,
			PositionTimeout: Duration(10 * time.Second),
			Prompt:          true,
		},
		Spectrum: AxisConfig{Start: 400, Stop: 960, Step: 0.5},
		Output: OutputConfig{
			Dir:    ".",
			LogDir: "logs",
			CSV:    true,
		},
		Server: ServerConfig{Addr: ":8000"},
	}
}

// Load layers the defaults, the given files, and the environment, then
// validates the result.  Files ending in .txt are read as legacy key=value
// scripts; everything else as YAML.
func Load(paths ...string) (Config, error) {
	k := koanf.New(".")
	c := Config{}
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return c, fmt.Errorf("loading defaults: %w", err)
	}
	for _, p := range paths {
		var err error
		if strings.EqualFold(filepath.Ext(p), ".txt") {
			err = k.Load(ScriptFile(p), nil)
		} else {
			err = k.Load(file.Provider(p), yaml.Parser())
		}
		if err != nil {
			return c, fmt.Errorf("loading %s: %w", p, err)
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil)
	if err != nil {
		return c, fmt.Errorf("loading environment: %w", err)
	}
	if err := k.Unmarshal("", &c); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// Validate checks the parameter set and the instrument settings
func (c Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	switch c.Acquisition.SettlePolicy {
	case SettleAuto, SettleAlways, SettleNever:
	default:
		return ValidationError{Key: "acquisition.settlepolicy", Reason: "must be auto, always, or never"}
	}
	switch c.Spectrometer.Source {
	case "camera", "synthetic", "replay":
	default:
		return ValidationError{Key: "spectrometer.source", Reason: "must be camera, synthetic, or replay"}
	}
	if c.Spectrometer.Source == "replay" && c.Spectrometer.ReplayPath == "" {
		return ValidationError{Key: "spectrometer.replaypath", Reason: "required for the replay source"}
	}
	if c.Spectrum.Step <= 0 || c.Spectrum.Stop <= c.Spectrum.Start {
		return ValidationError{Key: "spectrum", Reason: "need start < stop and step > 0"}
	}
	if c.Autoscale.MinExposure < 1 || c.Autoscale.MaxExposure < c.Autoscale.MinExposure {
		return ValidationError{Key: "autoscale.minexposure", Reason: "need 1 <= minexposure <= maxexposure"}
	}
	if c.Stage.MaxRetries < 0 {
		return ValidationError{Key: "stage.maxretries", Reason: "must not be negative"}
	}
	if c.Stage.Timeout <= 0 {
		return ValidationError{Key: "stage.timeout", Reason: "must be positive"}
	}
	if c.Stage.ExtendedTimeout <= 0 {
		return ValidationError{Key: "stage.extendedtimeout", Reason: "must be positive"}
	}
	if l := c.Stage.Loopback; len(l) < 3 || !strings.HasPrefix(l, "$") || !strings.HasSuffix(l, "#") {
		return ValidationError{Key: "stage.loopback", Reason: "must be a $...# command"}
	}
	lo, hi := c.Spectrum.Start, c.Spectrum.Stop
	if w := c.Params.SamplingWavelength; w < lo || w > hi {
		return ValidationError{Key: "sampling_wavelength", Reason: fmt.Sprintf("%g nm is outside the spectrum %g..%g nm", w, lo, hi)}
	}
	if w := c.Params.AutoscaleWavelength; w < lo || w > hi {
		return ValidationError{Key: "autoscaling_wavelength", Reason: fmt.Sprintf("%g nm is outside the spectrum %g..%g nm", w, lo, hi)}
	}
	if c.Spectrometer.ROIRows < 1 {
		return ValidationError{Key: "spectrometer.roirows", Reason: "must be at least 1"}
	}
	return nil
}

// WriteYAML encodes c as YAML
func WriteYAML(path string, c Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return yml.NewEncoder(f).Encode(c)
}
