package config_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photonlab/scanctl/config"
)

const script = `# measurement
smpd=8
gain = 4
exp=300
sampling_wavelength=850
pulse_distance=0.0196
no_of_pulse_per_point=50
no_of_point_per_cycle=3
np_of_cycle=2
offset=0
wait_time=5
lamp=2
filepath=%s
distance_to_height=1.5
no_of_average=4
no_of_drop=2
baseline_start=950
baseline_end=960
autoscaling=1
autoscaling_wavelength=700
autoscaling_intensity=3000
autoscaling_threshold=150
autoscaling_position=12.5
number_of_autoscaling=0
this line is garbage
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, config.Default().Validate())
}

func TestLoadLegacyScript(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, "script.txt", fmt.Sprintf(script, dir))

	c, err := config.Load(p)
	require.NoError(t, err)
	assert.Equal(t, 8, c.Params.SMPD)
	assert.Equal(t, 4, c.Params.Gain)
	assert.Equal(t, 3, c.Params.PointsPerCycle)
	assert.Equal(t, 2, c.Params.Cycles)
	assert.Equal(t, config.LampBoth, c.Params.Lamp)
	assert.Equal(t, dir, c.Params.FilePath)
	assert.True(t, c.Params.Autoscaling)
	assert.InDelta(t, 12.5, c.Params.AutoscalePosition, 1e-12)
	assert.InDelta(t, 1.5, c.Params.DistanceToHeight, 1e-12)

	// untouched sections keep their defaults
	assert.Equal(t, 2*time.Second, c.Stage.Timeout.D())
	assert.Equal(t, 38400, c.Stage.SerialOpts.Baud)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	p := writeFile(t, "scanctl.yml", `
stage:
  addr: COM7
  timeout: 3s
  fastmode: true
acquisition:
  settlepolicy: always
`)
	t.Setenv("SCANCTL_STAGE__ADDR", "10.0.0.5:4001")
	t.Setenv("SCANCTL_STAGE__SERIAL", "false")

	c, err := config.Load(p)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:4001", c.Stage.Addr)
	assert.False(t, c.Stage.Serial)
	assert.True(t, c.Stage.FastMode)
	assert.Equal(t, 3*time.Second, c.Stage.Timeout.D())
	assert.Equal(t, 15*time.Second, c.Stage.ExtendedTimeout.D())
	assert.Equal(t, config.SettleAlways, c.Acquisition.SettlePolicy)
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.yml")
	require.NoError(t, config.WriteYAML(p, config.Default()))
	c, err := config.Load(p)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)
}

func TestValidateRanges(t *testing.T) {
	cases := []struct {
		key    string
		mutate func(*config.Params)
	}{
		{"smpd", func(p *config.Params) { p.SMPD = 3 }},
		{"smpd", func(p *config.Params) { p.SMPD = 21 }},
		{"gain", func(p *config.Params) { p.Gain = 33 }},
		{"pulse_distance", func(p *config.Params) { p.PulseDistance = 0.02 }},
		{"np_of_cycle", func(p *config.Params) { p.Cycles = 0 }},
		{"wait_time", func(p *config.Params) { p.WaitTime = 0 }},
		{"no_of_average", func(p *config.Params) { p.Average = 0 }},
		{"no_of_drop", func(p *config.Params) { p.Drop = 33 }},
		{"lamp", func(p *config.Params) { p.Lamp = 3 }},
		{"filepath", func(p *config.Params) { p.FilePath = "/does/not/exist" }},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			p := config.DefaultParams()
			tc.mutate(&p)
			err := p.Validate()
			var verr config.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.key, verr.Key)
		})
	}
}

func TestValidateInstrument(t *testing.T) {
	c := config.Default()
	c.Acquisition.SettlePolicy = "sometimes"
	assert.Error(t, c.Validate())

	c = config.Default()
	c.Spectrometer.Source = "replay"
	assert.Error(t, c.Validate())

	require.NoError(t, config.Default().Validate())
	cases := map[string]func(*config.Config){
		"stage.timeout":          func(c *config.Config) { c.Stage.Timeout = 0 },
		"stage.extendedtimeout":  func(c *config.Config) { c.Stage.ExtendedTimeout = config.Duration(-time.Second) },
		"stage.loopback":         func(c *config.Config) { c.Stage.Loopback = "UARTLOOP" },
		"sampling_wavelength":    func(c *config.Config) { c.Params.SamplingWavelength = 980 },
		"autoscaling_wavelength": func(c *config.Config) { c.Params.AutoscaleWavelength = 399.5 },
	}
	for key, mod := range cases {
		t.Run(key, func(t *testing.T) {
			c := config.Default()
			mod(&c)
			var ve config.ValidationError
			require.ErrorAs(t, c.Validate(), &ve)
			assert.Equal(t, key, ve.Key)
		})
	}
}

func TestCoordinates(t *testing.T) {
	p := config.DefaultParams()
	p.PulsesPerPoint = 100
	p.Offset = 2
	p.DistanceToHeight = 0.5
	x, z := p.Coordinates(3)
	assert.InDelta(t, 2+3*1.96, x, 1e-9)
	assert.InDelta(t, 3*0.5*1.96+2*0.5, z, 1e-9)
}

func TestParseScriptSkipsComments(t *testing.T) {
	m := config.ParseScript([]byte("# header\n\nsmpd = 6\nnot a pair\n"))
	assert.Equal(t, map[string]interface{}{"smpd": "6"}, m)
}
