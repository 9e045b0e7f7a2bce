package camera_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photonlab/scanctl/camera"
)

func TestEncodeSample(t *testing.T) {
	hi, lo := camera.EncodeSample(0xABC)
	assert.Equal(t, byte(0xAB), hi)
	assert.Equal(t, byte(0x0C+128), lo)
}

func TestProbeSkipsWrongResolution(t *testing.T) {
	var opened []*camera.Synthetic
	open := func(i int) (camera.Source, error) {
		switch i {
		case 0:
			return nil, errors.New("no device")
		case 1:
			s := camera.NewSynthetic(640, 480)
			opened = append(opened, s)
			return s, nil
		default:
			s := camera.NewSynthetic(1280, 800)
			opened = append(opened, s)
			return s, nil
		}
	}
	src, idx, err := camera.Probe(open, 5, 1280, 800)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	w, h := src.Res()
	assert.Equal(t, [2]int{1280, 800}, [2]int{w, h})
	require.Len(t, opened, 2)
	assert.True(t, opened[0].Closed(), "mismatched devices are released")
	assert.False(t, opened[1].Closed())
}

func TestProbeNothingFound(t *testing.T) {
	open := func(i int) (camera.Source, error) { return camera.NewSynthetic(10, 10), nil }
	_, _, err := camera.Probe(open, 5, 1280, 800)
	assert.True(t, errors.Is(err, camera.ErrNoCamera))
}

func TestSyntheticScalesWithExposure(t *testing.T) {
	s := camera.NewSynthetic(64, 4)
	s.Peaks = []camera.Peak{{Column: 32, Sigma: 2, Height: 1}}
	s.Dark = 0
	require.NoError(t, s.SetExposure(100))
	low := s.Row()[32]
	require.NoError(t, s.SetExposure(200))
	high := s.Row()[32]
	assert.Equal(t, uint16(100), low)
	assert.Equal(t, uint16(200), high)

	require.NoError(t, s.SetExposure(10000))
	assert.Equal(t, uint16(camera.FullScale), s.Row()[32])
}

func TestSyntheticFramesAndFailures(t *testing.T) {
	s := camera.NewSynthetic(8, 3)
	fr, err := s.ReadFrame()
	require.NoError(t, err)
	assert.Len(t, fr, 2*8*3)
	assert.Equal(t, fr[:16], fr[16:32], "rows are identical")

	s.FailNext = 1
	_, err = s.ReadFrame()
	assert.Equal(t, camera.ErrNoFrame, err)
	_, err = s.ReadFrame()
	assert.NoError(t, err)
	assert.Equal(t, 3, s.Reads)

	require.NoError(t, s.Close())
	_, err = s.ReadFrame()
	assert.Equal(t, camera.ErrClosed, err)
}

func TestReplayRoundTrip(t *testing.T) {
	const w, h = 4, 2
	frames := [][]uint16{
		{0, 1, 2, 3, 4, 5, 6, 7},
		{4095, 4094, 100, 200, 300, 400, 500, 600},
	}
	var buf bytes.Buffer
	cards := []fitsio.Card{{Name: "EXPOSURE", Value: 300, Comment: "ms"}}
	require.NoError(t, camera.WriteCube(&buf, cards, frames, w, h))

	r, err := camera.ReadReplay(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	for loop := 0; loop < 2; loop++ {
		for _, want := range frames {
			got, err := r.ReadFrame()
			require.NoError(t, err)
			assert.Equal(t, camera.EncodeFrame(want), got)
		}
	}
	require.NoError(t, r.Close())
	_, err = r.ReadFrame()
	assert.Equal(t, camera.ErrClosed, err)
}

func TestWriteCubeRejectsShortFrame(t *testing.T) {
	var buf bytes.Buffer
	err := camera.WriteCube(&buf, nil, [][]uint16{{1, 2, 3}}, 2, 2)
	assert.Error(t, err)
}

func TestRawCubeReplaysCapturedBytes(t *testing.T) {
	const w, h = 2, 1
	// a low byte below 128 decodes to a wrapped value that 12-bit
	// re-encoding cannot reproduce
	frames := [][]byte{{0x12, 0x05, 0xAB, 0x8C}, {0x00, 0x80, 0xFF, 0xFF}}
	var buf bytes.Buffer
	cards := []fitsio.Card{{Name: "EXPTIME", Value: 100}}
	require.NoError(t, camera.WriteRawCube(&buf, cards, frames, w, h))

	r, err := camera.ReadReplay(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	for _, want := range append(frames, frames[0]) {
		got, err := r.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestPackFrameOddLength(t *testing.T) {
	words := camera.PackFrame([]byte{0x12, 0x34, 0x56})
	assert.Equal(t, []uint16{0x1234, 0x5600}, words)
	assert.Equal(t, []byte{0x12, 0x34, 0x56, 0x00}, camera.UnpackFrame(words))
}
