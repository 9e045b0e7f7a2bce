// Package motion contains the abstract interface of the motion/lamp
// controller as seen by a measurement, and an HTTP wrapper layer.
package motion

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"

	"github.com/photonlab/scanctl/command"
	"github.com/photonlab/scanctl/generichttp"
)

// Outcome is the result of sending one command
type Outcome int

const (
	// OK means the controller acknowledged the command, or the command was
	// sent in fire-and-forget mode
	OK Outcome = iota

	// NACK means every attempt was refused, unanswered, or answered with
	// something unexpected
	NACK

	// Error means the channel itself failed
	Error
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "OK"
	case NACK:
		return "NACK"
	case Error:
		return "error"
	default:
		return "Outcome(" + strconv.Itoa(int(o)) + ")"
	}
}

// CommandError reports a command that did not succeed
type CommandError struct {
	Cmd     string
	Outcome Outcome
}

func (e CommandError) Error() string {
	return fmt.Sprintf("command %s: %s", e.Cmd, e.Outcome)
}

// Err returns nil for OK and a CommandError otherwise
func (o Outcome) Err(cmd string) error {
	if o == OK {
		return nil
	}
	return CommandError{Cmd: cmd, Outcome: o}
}

// Sender sends one command and waits for its outcome.  A zero timeout uses
// the channel default; otherwise the timeout applies to this command only.
type Sender interface {
	Send(cmd string, timeout time.Duration) Outcome
}

// SenderFunc adapts a function to the Sender interface
type SenderFunc func(cmd string, timeout time.Duration) Outcome

// Send calls f
func (f SenderFunc) Send(cmd string, timeout time.Duration) Outcome {
	return f(cmd, timeout)
}

// Home sends the home command
func Home(s Sender, timeout time.Duration) Outcome {
	return s.Send(command.ORI().Text, timeout)
}

// Move sends a relative move of n pulses
func Move(s Sender, n int, timeout time.Duration) Outcome {
	return s.Send(command.MLS(n).Text, timeout)
}

// Lamp switches the lamp channels addressed by selector and returns the
// first non-OK outcome, after trying every channel
func Lamp(s Sender, selector int, on bool, timeout time.Duration) Outcome {
	out := OK
	for _, c := range command.LampSwitch(selector, on) {
		if o := s.Send(c.Text, timeout); o != OK && out == OK {
			out = o
		}
	}
	return out
}

// LoopbackCommander is a Sender with its own self-test command
type LoopbackCommander interface {
	LoopbackCommand() string
}

// Loopback runs the link self-test, with the sender's own command when it
// has one
func Loopback(s Sender) Outcome {
	if lc, ok := s.(LoopbackCommander); ok {
		return s.Send(lc.LoopbackCommand(), 0)
	}
	return s.Send(command.LoopbackToken, 0)
}

// HTTPWrapper wraps a controller with HTTP
type HTTPWrapper struct {
	Sender

	// LongTimeout is used for homing and moves
	LongTimeout time.Duration

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(s Sender, longTimeout time.Duration) HTTPWrapper {
	w := HTTPWrapper{Sender: s, LongTimeout: longTimeout}
	w.RouteTable = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/home"}:            w.HTTPHome,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/move"}:            w.HTTPMove,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/lamp/{channel}"}: w.HTTPLamp,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/loopback"}:        w.HTTPLoopback,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}:            w.HTTPRaw,
	}
	return w
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

func respondOutcome(w http.ResponseWriter, cmd string, o Outcome) {
	if o != OK {
		http.Error(w, o.Err(cmd).Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPHome homes the stage
func (h HTTPWrapper) HTTPHome(w http.ResponseWriter, r *http.Request) {
	respondOutcome(w, command.ORI().Text, Home(h.Sender, h.LongTimeout))
}

// HTTPMove moves the stage by {"int": pulses}
func (h HTTPWrapper) HTTPMove(w http.ResponseWriter, r *http.Request) {
	i := generichttp.IntT{}
	err := json.NewDecoder(r.Body).Decode(&i)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if i.Int < 0 {
		http.Error(w, "pulse count must not be negative", http.StatusBadRequest)
		return
	}
	respondOutcome(w, command.MLS(i.Int).Text, Move(h.Sender, i.Int, h.LongTimeout))
}

// HTTPLamp switches one lamp channel, or both for channel 2, per {"bool": on}
func (h HTTPWrapper) HTTPLamp(w http.ResponseWriter, r *http.Request) {
	ch, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil || ch < 0 || ch > 2 {
		http.Error(w, "channel must be 0, 1, or 2", http.StatusBadRequest)
		return
	}
	b := generichttp.BoolT{}
	err = json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondOutcome(w, fmt.Sprintf("lamp %d", ch), Lamp(h.Sender, ch, b.Bool, 0))
}

// HTTPLoopback runs the link self-test and returns {"bool": ok}
func (h HTTPWrapper) HTTPLoopback(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: Loopback(h.Sender) == OK}
	hp.EncodeAndRespond(w, r)
}

// HTTPRaw sends a {"str": "$...#"} token as-is and returns the outcome as {"str": outcome}
func (h HTTPWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	s := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := command.Parse(s.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if c.Kind == command.Wait || c.Kind == command.Acquire {
		http.Error(w, c.Text+" is not a controller command", http.StatusBadRequest)
		return
	}
	timeout := time.Duration(0)
	if c.Long(0) {
		timeout = h.LongTimeout
	}
	hp := generichttp.HumanPayload{T: types.String, String: h.Sender.Send(c.Text, timeout).String()}
	hp.EncodeAndRespond(w, r)
}
