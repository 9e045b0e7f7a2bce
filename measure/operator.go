package measure

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/photonlab/scanctl/autoscale"
	"github.com/photonlab/scanctl/util"
)

// ErrAborted is returned when the operator gives up on a manual exposure
var ErrAborted = errors.New("operator aborted the run")

// Operator decides the exposure when autoscaling does not converge
type Operator interface {
	// ManualExposure returns the exposure to measure with, given where
	// autoscaling stopped
	ManualExposure(res autoscale.Result) (int, error)
}

// FixedExposure answers every request with its value, or keeps the exposure
// autoscaling ended on when it is 0.  It stands in for an operator in
// unattended runs.
type FixedExposure int

// ManualExposure returns the fixed value
func (f FixedExposure) ManualExposure(res autoscale.Result) (int, error) {
	if f <= 0 {
		return res.Exposure, nil
	}
	return int(f), nil
}

// Console asks on a terminal.  An empty answer keeps the exposure
// autoscaling ended on and "q" aborts.
type Console struct {
	In  io.Reader
	Out io.Writer

	// Min and Max bound accepted answers
	Min, Max int

	sc *bufio.Scanner
}

// NewConsole returns a console operator on in and out
func NewConsole(in io.Reader, out io.Writer, min, max int) *Console {
	return &Console{In: in, Out: out, Min: min, Max: max}
}

// ManualExposure prompts until it gets a valid exposure, the operator
// aborts, or the input ends
func (c *Console) ManualExposure(res autoscale.Result) (int, error) {
	if c.sc == nil {
		c.sc = bufio.NewScanner(c.In)
	}
	fmt.Fprintf(c.Out, "autoscaling did not converge: %.1f counts at %.1f nm with exposure %d\n",
		res.Measured, res.Wavelength, res.Exposure)
	for {
		fmt.Fprintf(c.Out, "exposure [%d-%d, enter keeps %d, q aborts]: ", c.Min, c.Max, res.Exposure)
		if !c.sc.Scan() {
			if err := c.sc.Err(); err != nil {
				return 0, err
			}
			return 0, ErrAborted
		}
		ans := strings.TrimSpace(c.sc.Text())
		switch {
		case ans == "":
			return res.Exposure, nil
		case strings.EqualFold(ans, "q"):
			return 0, ErrAborted
		}
		e, err := strconv.Atoi(ans)
		if err != nil || util.ClampInt(e, c.Min, c.Max) != e {
			fmt.Fprintf(c.Out, "%q is not an exposure in range\n", ans)
			continue
		}
		return e, nil
	}
}
