package camera

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/astrogo/fitsio"
)

// RawPairsCard marks a cube whose samples are the raw high/low byte pairs of
// each frame rather than decoded values
const RawPairsCard = "RAWPAIRS"

// WriteCube streams a W x H x N cube of decoded 12-bit frames as a fits file
// to w.  Samples fit in int16, so no BZERO offset is applied.  Replay
// re-encodes them as 12-bit samples, so decoded values above 4095 do not
// survive; use WriteRawCube for captured frames.
func WriteCube(w io.Writer, metadata []fitsio.Card, frames [][]uint16, width, height int) error {
	if len(frames) == 0 {
		return errors.New("camera: no frames to write")
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if len(frames) > 1 {
		dims = append(dims, len(frames))
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	buf := make([]int16, 0, width*height*len(frames))
	for i, f := range frames {
		if len(f) != width*height {
			return fmt.Errorf("camera: frame %d has %d samples, want %d", i, len(f), width*height)
		}
		for _, v := range f {
			buf = append(buf, int16(v))
		}
	}
	err = im.Write(buf)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// PackFrame stores each raw byte pair of a frame as one word, high byte
// first.  An odd trailing byte is paired with zero.
func PackFrame(raw []byte) []uint16 {
	out := make([]uint16, (len(raw)+1)/2)
	for i := range out {
		out[i] = uint16(raw[2*i]) << 8
		if 2*i+1 < len(raw) {
			out[i] |= uint16(raw[2*i+1])
		}
	}
	return out
}

// UnpackFrame is the inverse of PackFrame
func UnpackFrame(words []uint16) []byte {
	out := make([]byte, 2*len(words))
	for i, v := range words {
		out[2*i], out[2*i+1] = byte(v>>8), byte(v)
	}
	return out
}

// WriteRawCube writes raw frames losslessly: Replay returns the same bytes
// that were captured
func WriteRawCube(w io.Writer, metadata []fitsio.Card, frames [][]byte, width, height int) error {
	packed := make([][]uint16, len(frames))
	for i, f := range frames {
		packed[i] = PackFrame(f)
	}
	cards := append([]fitsio.Card{{Name: RawPairsCard, Value: true, Comment: "raw byte pairs"}}, metadata...)
	return WriteCube(w, cards, packed, width, height)
}

// Replay plays back the frames of a cube written by WriteCube, looping at
// the end.  Exposure and gain are recorded but do not change the frames.
type Replay struct {
	mu sync.Mutex

	width, height int
	frames        [][]uint16
	raw           bool
	next          int
	closed        bool

	Exposure, Gain int
}

// OpenReplay reads a cube from the fits file at path
func OpenReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadReplay(f)
}

// ReadReplay reads a cube from r
func ReadReplay(r io.Reader) (*Replay, error) {
	fits, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer fits.Close()
	img, ok := fits.HDU(0).(fitsio.Image)
	if !ok {
		return nil, errors.New("camera: primary HDU is not an image")
	}
	axes := img.Header().Axes()
	if len(axes) < 2 || len(axes) > 3 {
		return nil, fmt.Errorf("camera: expected a 2D or 3D image, got %d axes", len(axes))
	}
	width, height, n := axes[0], axes[1], 1
	if len(axes) == 3 {
		n = axes[2]
	}
	if width*height*n == 0 {
		return nil, errors.New("camera: empty image")
	}
	raw := make([]int16, width*height*n)
	if err := img.Read(&raw); err != nil {
		return nil, err
	}
	frames := make([][]uint16, n)
	for i := range frames {
		fr := make([]uint16, width*height)
		for j := range fr {
			fr[j] = uint16(raw[i*width*height+j])
		}
		frames[i] = fr
	}
	rp := &Replay{width: width, height: height, frames: frames}
	if c := img.Header().Get(RawPairsCard); c != nil {
		rp.raw, _ = c.Value.(bool)
	}
	return rp, nil
}

// Len returns the number of frames in the cube
func (r *Replay) Len() int {
	return len(r.frames)
}

// Res returns (W, H)
func (r *Replay) Res() (int, int) {
	return r.width, r.height
}

// ReadFrame returns the next frame, encoded
func (r *Replay) ReadFrame() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	fr := r.frames[r.next]
	r.next = (r.next + 1) % len(r.frames)
	if r.raw {
		return UnpackFrame(fr), nil
	}
	return EncodeFrame(fr), nil
}

// SetExposure records the exposure
func (r *Replay) SetExposure(v int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Exposure = v
	return nil
}

// SetGain records the gain
func (r *Replay) SetGain(v int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Gain = v
	return nil
}

// Close releases the frames
func (r *Replay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.frames = nil
	return nil
}
