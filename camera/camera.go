/*Package camera describes the capture resource behind a line-scan
spectrometer and provides the sources used to drive it.

A frame is delivered as the sensor's raw byte stream: for every pixel, one
byte carrying the high bits and one byte carrying the low bits offset by
128.  Decoding lives with the spectrometer; sources only move bytes.

Sources:
	V4L2       a UVC capture device (Linux)
	Synthetic  a deterministic simulated sensor, for mock runs and tests
	Replay     frames played back from a FITS cube made by scanctl record
*/
package camera

import (
	"errors"
	"fmt"
	"log"
)

var (
	// ErrNoCamera is returned when no capture index has the expected resolution
	ErrNoCamera = errors.New("no capture device with the expected resolution")

	// ErrClosed is returned by a closed source
	ErrClosed = errors.New("capture source closed")

	// ErrNoFrame is returned when the source has no frame to give
	ErrNoFrame = errors.New("no frame available")
)

// Source describes a capture resource delivering raw frames
type Source interface {
	// Res gets the (W, H) of the frames returned by ReadFrame
	Res() (int, int)

	// ReadFrame reads one frame of 2*W*H raw bytes.  The slice is only valid
	// until the next call.
	ReadFrame() ([]byte, error)

	// SetExposure pushes an exposure value to the sensor
	SetExposure(int) error

	// SetGain pushes a gain value to the sensor
	SetGain(int) error

	// Close releases the capture resource
	Close() error
}

// Opener opens the capture device at an index
type Opener func(index int) (Source, error)

// Probe opens indices 0..n-1 and returns the first source with resolution
// width x height, closing the others
func Probe(open Opener, n, width, height int) (Source, int, error) {
	for i := 0; i < n; i++ {
		src, err := open(i)
		if err != nil {
			continue
		}
		w, h := src.Res()
		if w == width && h == height {
			log.Printf("camera: index %d is %dx%d", i, w, h)
			return src, i, nil
		}
		log.Printf("camera: index %d is %dx%d, skipping", i, w, h)
		src.Close()
	}
	return nil, -1, fmt.Errorf("%w (%dx%d, tried %d indices)", ErrNoCamera, width, height, n)
}

// EncodeSample splits a 12-bit sample into its high and low bytes
func EncodeSample(v uint16) (high, low byte) {
	return byte(v >> 4), byte(v&0xF) + 128
}

// EncodeFrame encodes a row-major W*H grid of 12-bit samples into the raw
// byte stream.  It is the inverse of the spectrometer's decode.
func EncodeFrame(samples []uint16) []byte {
	out := make([]byte, 2*len(samples))
	for i, v := range samples {
		out[2*i], out[2*i+1] = EncodeSample(v)
	}
	return out
}
