package command

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/photonlab/scanctl/config"
)

// MinPulses is the smallest move worth sending; shorter moves are skipped
const MinPulses = 5

// Generate expands a parameter set into the command sequence of one cycle:
// sampling setup, home, lamp on (unless autoscaling already switched it
// on), wait, offset move, one move+acquire per point, then home and a
// loopback check.
func Generate(p config.Params) []Command {
	cmds := []Command{SMPD(p.SMPD), ORI()}
	if !p.Autoscaling {
		cmds = append(cmds, LampSwitch(p.Lamp, true)...)
	}
	cmds = append(cmds, WAIT(p.WaitTime))
	if p.Offset > 0 {
		if n := p.PulsesFor(p.Offset); n >= MinPulses {
			cmds = append(cmds, MLS(n))
		}
	}
	for i := 0; i < p.PointsPerCycle; i++ {
		if p.PulsesPerPoint >= MinPulses {
			cmds = append(cmds, MLS(p.PulsesPerPoint))
		}
		cmds = append(cmds, SRD())
	}
	return append(cmds, WAIT(2), ORI(), UARTLOOP(), WAIT(2))
}

// Count returns how many commands of kind k are in cmds
func Count(cmds []Command, k Kind) int {
	n := 0
	for _, c := range cmds {
		if c.Kind == k {
			n++
		}
	}
	return n
}

// WriteScript writes one command per line, preceded by a # header if header
// is not empty
func WriteScript(w io.Writer, header string, cmds []Command) error {
	bw := bufio.NewWriter(w)
	if header != "" {
		for _, line := range strings.Split(header, "\n") {
			fmt.Fprintf(bw, "# %s\n", line)
		}
	}
	for _, c := range cmds {
		fmt.Fprintln(bw, c.Text)
	}
	return bw.Flush()
}

// SaveScript writes cmds to <dir>/<yyyymmddHHMM>_command.txt and returns the path
func SaveScript(dir string, t time.Time, cmds []Command) (string, error) {
	fn := filepath.Join(dir, t.Format("200601021504")+"_command.txt")
	f, err := os.Create(fn)
	if err != nil {
		return "", err
	}
	defer f.Close()
	header := "generated command sequence for one cycle, " + t.Format(time.RFC3339)
	if err := WriteScript(f, header, cmds); err != nil {
		return "", err
	}
	return fn, f.Close()
}

// ReadScript parses a script written by WriteScript.  Blank lines and #
// comments are skipped.
func ReadScript(r io.Reader) ([]Command, error) {
	var out []Command
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		c, err := Parse(s)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return out, sc.Err()
}
