package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/dustin/go-humanize"

	"github.com/photonlab/scanctl/camera"
	"github.com/photonlab/scanctl/measure"
	"github.com/photonlab/scanctl/spectro"
)

// record captures raw frames from the configured source into a FITS cube
// that replays byte for byte
func record(script string, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: scanctl record <frames> <out.fits> [script.txt]")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return fmt.Errorf("frame count %q must be a positive integer", args[0])
	}
	out := args[1]
	c, err := loadConfig(script)
	if err != nil {
		return err
	}
	sc := c.Spectrometer
	p := c.Params

	src, idx, err := camera.Probe(measure.Opener(c), sc.ProbeCount, sc.Width, sc.Height)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := src.SetGain(p.Gain); err != nil {
		return err
	}
	if err := src.SetExposure(p.Exposure); err != nil {
		return err
	}

	start := time.Now()
	frames := make([][]byte, 0, n)
	for tries := 0; len(frames) < n; tries++ {
		if tries == 3*n {
			return fmt.Errorf("record: only %d of %d frames after %d reads", len(frames), n, tries)
		}
		raw, err := src.ReadFrame()
		if err != nil {
			log.Printf("record: frame %d: %v", len(frames)+1, err)
			continue
		}
		if ns := len(spectro.Decode(raw)); ns != sc.Width*sc.Height {
			log.Printf("record: frame %d: %d samples, skipping", len(frames)+1, ns)
			continue
		}
		frames = append(frames, raw)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	cards := []fitsio.Card{
		{Name: "EXPTIME", Value: p.Exposure, Comment: "ms"},
		{Name: "GAIN", Value: p.Gain},
		{Name: "CAMIDX", Value: idx, Comment: "capture index"},
		{Name: "DATE-OBS", Value: start.UTC().Format("2006-01-02T15:04:05")},
	}
	if err := camera.WriteRawCube(f, cards, frames, sc.Width, sc.Height); err != nil {
		return err
	}
	size := int64(0)
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}
	log.Printf("record: %d frames, %s written to %s", n, humanize.Bytes(uint64(size)), out)
	return nil
}
