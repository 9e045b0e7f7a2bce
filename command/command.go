/*Package command implements the controller's $...# command grammar.

Commands are ASCII tokens delimited by $ and #:

	$ORI#          home
	$MLS<n>#       move n pulses
	$SRD#          acquire one point
	$WAIT<n>#      sleep n seconds, never sent to the controller
	$SLD<ch>,<s>#  lamp channel ch on (1) or off (0)
	$UARTLOOP#     loopback self-test, echoed back
	$SMPD<n>#      set the controller sampling parameter

Anything else between $ and # is an unknown command and is passed through to
the controller as-is.
*/
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a command
type Kind int

const (
	// Unknown is a well-formed token with an unrecognized name
	Unknown Kind = iota

	// Home moves the stage to its origin
	Home

	// Move moves the stage by N pulses
	Move

	// Acquire reads one point from the spectrometer
	Acquire

	// Wait sleeps for N seconds
	Wait

	// Lamp switches a lamp channel
	Lamp

	// Loopback is the link self-test
	Loopback

	// Sampling sets the controller sampling parameter
	Sampling
)

var kindNames = [...]string{"unknown", "home", "move", "acquire", "wait", "lamp", "loopback", "sampling"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// ErrSyntax is returned for text that is not a $...# token
var ErrSyntax = errors.New("command: not a $...# token")

// LoopbackToken is the loopback command, which the controller echoes
const LoopbackToken = "$UARTLOOP#"

// Command is one immutable instruction
type Command struct {
	// Text is the literal token, e.g. $MLS50#
	Text string

	Kind Kind

	// N is the pulse count, wait seconds, or sampling value
	N int

	// Channel and On describe a lamp command
	Channel int
	On      bool
}

func (c Command) String() string {
	return c.Text
}

// Long returns true if the command needs the extended timeout: homing, or a
// move of more than threshold pulses
func (c Command) Long(threshold int) bool {
	return c.Kind == Home || (c.Kind == Move && c.N > threshold)
}

// Parse classifies a token.  Surrounding whitespace is ignored.
func Parse(s string) (Command, error) {
	s = strings.TrimSpace(s)
	if len(s) < 3 || s[0] != '$' || s[len(s)-1] != '#' {
		return Command{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	body := s[1 : len(s)-1]
	c := Command{Text: s}
	var err error
	switch {
	case body == "ORI":
		c.Kind = Home
	case body == "SRD":
		c.Kind = Acquire
	case body == "UARTLOOP":
		c.Kind = Loopback
	case strings.HasPrefix(body, "MLS"):
		c.Kind = Move
		c.N, err = strconv.Atoi(body[3:])
	case strings.HasPrefix(body, "WAIT"):
		c.Kind = Wait
		c.N, err = strconv.Atoi(body[4:])
	case strings.HasPrefix(body, "SMPD"):
		c.Kind = Sampling
		c.N, err = strconv.Atoi(body[4:])
	case strings.HasPrefix(body, "SLD"):
		c.Kind = Lamp
		ch, state, ok := strings.Cut(body[3:], ",")
		if !ok {
			return Command{}, fmt.Errorf("%w: lamp command %q needs <channel>,<state>", ErrSyntax, s)
		}
		c.Channel, err = strconv.Atoi(ch)
		if err == nil {
			var st int
			st, err = strconv.Atoi(state)
			c.On = st != 0
		}
	default:
		c.Kind = Unknown
	}
	if err != nil {
		return Command{}, fmt.Errorf("%w: %q: %v", ErrSyntax, s, err)
	}
	if (c.Kind == Wait || c.Kind == Move) && c.N < 0 {
		return Command{}, fmt.Errorf("%w: %q: negative argument", ErrSyntax, s)
	}
	return c, nil
}

// ORI returns the home command
func ORI() Command {
	return Command{Text: "$ORI#", Kind: Home}
}

// MLS returns a move of n pulses
func MLS(n int) Command {
	return Command{Text: fmt.Sprintf("$MLS%d#", n), Kind: Move, N: n}
}

// SRD returns the acquire command
func SRD() Command {
	return Command{Text: "$SRD#", Kind: Acquire}
}

// WAIT returns a wait of n seconds
func WAIT(n int) Command {
	return Command{Text: fmt.Sprintf("$WAIT%d#", n), Kind: Wait, N: n}
}

// SLD returns a lamp command for channel ch
func SLD(ch int, on bool) Command {
	s := 0
	if on {
		s = 1
	}
	return Command{Text: fmt.Sprintf("$SLD%d,%d#", ch, s), Kind: Lamp, Channel: ch, On: on}
}

// UARTLOOP returns the loopback command
func UARTLOOP() Command {
	return Command{Text: LoopbackToken, Kind: Loopback}
}

// SMPD returns the sampling parameter command
func SMPD(n int) Command {
	return Command{Text: fmt.Sprintf("$SMPD%d#", n), Kind: Sampling, N: n}
}

// LampSwitch returns the lamp commands for a selector: 0 and 1 address one
// channel, 2 addresses both.  Other selectors yield nothing.
func LampSwitch(selector int, on bool) []Command {
	switch selector {
	case 0, 1:
		return []Command{SLD(selector, on)}
	case 2:
		return []Command{SLD(0, on), SLD(1, on)}
	default:
		return nil
	}
}
