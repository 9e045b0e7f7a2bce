//go:build !linux

package camera

import "errors"

// ErrUnsupported is returned where no capture backend exists
var ErrUnsupported = errors.New("camera: V4L2 capture is only available on linux")

// V4L2Opener returns an Opener that always fails on this platform
func V4L2Opener(width, height int) Opener {
	return func(index int) (Source, error) {
		return nil, ErrUnsupported
	}
}
