//go:build linux

package camera

import (
	"errors"
	"fmt"
	"sync"

	"github.com/blackjack/webcam"
)

// V4L2 control IDs, linux/v4l2-controls.h
const (
	cidBrightness webcam.ControlID = 0x00980900
	cidGain       webcam.ControlID = 0x00980913
)

// fourcc YUYV, two bytes per pixel, delivered untouched
const pixYUYV webcam.PixelFormat = 0x56595559

// V4L2 is a UVC capture device.  The spectrometer exposes its raw sample
// stream as YUYV frames; exposure is mapped to the brightness control.
type V4L2 struct {
	mu            sync.Mutex
	cam           *webcam.Webcam
	width, height int

	// FrameTimeout is how long ReadFrame waits, seconds
	FrameTimeout uint32
}

// OpenV4L2 opens /dev/video<index> and requests width x height YUYV frames
func OpenV4L2(index, width, height int) (*V4L2, error) {
	cam, err := webcam.Open(fmt.Sprintf("/dev/video%d", index))
	if err != nil {
		return nil, err
	}
	_, w, h, err := cam.SetImageFormat(pixYUYV, uint32(width), uint32(height))
	if err != nil {
		cam.Close()
		return nil, err
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, err
	}
	return &V4L2{cam: cam, width: int(w), height: int(h), FrameTimeout: 2}, nil
}

// V4L2Opener returns an Opener for Probe that requests width x height
func V4L2Opener(width, height int) Opener {
	return func(index int) (Source, error) {
		return OpenV4L2(index, width, height)
	}
}

// Res returns (W, H)
func (v *V4L2) Res() (int, int) {
	return v.width, v.height
}

// ReadFrame waits for and copies out one frame
func (v *V4L2) ReadFrame() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cam == nil {
		return nil, ErrClosed
	}
	err := v.cam.WaitForFrame(v.FrameTimeout)
	if err != nil {
		var te *webcam.Timeout
		if errors.As(err, &te) {
			return nil, ErrNoFrame
		}
		return nil, err
	}
	frame, err := v.cam.ReadFrame()
	if err != nil {
		return nil, err
	}
	if len(frame) == 0 {
		return nil, ErrNoFrame
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	return out, nil
}

// SetExposure writes the brightness control
func (v *V4L2) SetExposure(e int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cam == nil {
		return ErrClosed
	}
	return v.cam.SetControl(cidBrightness, int32(e))
}

// SetGain writes the gain control
func (v *V4L2) SetGain(g int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cam == nil {
		return ErrClosed
	}
	return v.cam.SetControl(cidGain, int32(g))
}

// Close stops streaming and closes the device
func (v *V4L2) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cam == nil {
		return nil
	}
	err := v.cam.Close()
	v.cam = nil
	return err
}
