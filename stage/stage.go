/*Package stage provides an interface to the microcontroller that drives the
linear stage and the lamps.

The controller speaks the $...# grammar of package command over a serial
line.  Every command is answered by a single line: $OK# on success, $NACK#
on refusal, or an echo for the loopback self-test.  Nothing is answered
while a move is still running, so the response to a move doubles as its
completion signal and long moves need a longer read timeout.

Two modes exist.  Verified mode clears the buffers, writes, waits for the
response, and retries on anything but success.  Fire-and-forget mode writes,
sleeps a fixed interval, and reports success without reading; it is only
safe when timing accuracy does not matter.
*/
package stage

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/photonlab/scanctl/command"
	"github.com/photonlab/scanctl/comm"
	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/motion"
)

const (
	// ACK is the success response
	ACK = "$OK#"

	// NACKResponse is the refusal response
	NACKResponse = "$NACK#"
)

var errNACK = errors.New("controller refused the command")

// Options holds the protocol policy
type Options struct {
	// Timeout is the channel default response timeout
	Timeout time.Duration

	// MaxRetries is the number of re-sends after the first attempt
	MaxRetries int

	// RetryDelay is the pause between attempts
	RetryDelay time.Duration

	// FastMode enables fire-and-forget
	FastMode bool

	// FastSettle is the pause after each fire-and-forget write
	FastSettle time.Duration

	// Loopback is the self-test command the controller echoes; empty means
	// command.LoopbackToken
	Loopback string
}

// OptionsFromConfig extracts the protocol policy from the stage config
func OptionsFromConfig(c config.StageConfig) Options {
	return Options{
		Timeout:    c.Timeout.D(),
		MaxRetries: c.MaxRetries,
		RetryDelay: c.RetryDelay.D(),
		FastMode:   c.FastMode,
		FastSettle: c.FastSettle.D(),
		Loopback:   c.Loopback,
	}
}

// Controller owns the channel to the controller for the duration of a run.
// Calls are serialized.
type Controller struct {
	mu   sync.Mutex
	dev  *comm.RemoteDevice
	opts Options

	// Sleep is used for the fire-and-forget settle, replaceable in tests
	Sleep func(time.Duration)
}

// New wraps an already opened device
func New(dev *comm.RemoteDevice, opts Options) *Controller {
	if opts.FastMode {
		log.Println("stage: fire-and-forget mode enabled, responses will not be read and positions are not verified")
	}
	if opts.Loopback == "" {
		opts.Loopback = command.LoopbackToken
	}
	return &Controller{dev: dev, opts: opts, Sleep: time.Sleep}
}

// Open connects to the controller described by c.  Failure to open is fatal
// to a run.
func Open(c config.StageConfig) (*Controller, error) {
	opts := c.SerialOpts
	rd := comm.NewRemoteDevice(c.Addr, c.Serial, &opts, c.Timeout.D())
	if err := rd.Open(); err != nil {
		return nil, fmt.Errorf("stage: %w", err)
	}
	log.Printf("stage: opened %s", c.Addr)
	return New(&rd, OptionsFromConfig(c)), nil
}

// Options returns the protocol policy in use
func (c *Controller) Options() Options {
	return c.opts
}

// LoopbackCommand is the self-test command this controller echoes
func (c *Controller) LoopbackCommand() string {
	return c.opts.Loopback
}

// Close releases the channel.  Closing twice is a no-op.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dev.IsOpen() {
		return nil
	}
	log.Printf("stage: closing %s", c.dev.Addr)
	return c.dev.Close()
}

// Send sends one command and returns its outcome.  A non-zero timeout
// replaces the channel default for this command only; the default is
// restored before Send returns.  Send never panics or returns an error;
// the caller decides what a failed outcome means.
func (c *Controller) Send(cmd string, timeout time.Duration) motion.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dev.IsOpen() {
		log.Printf("stage: %s not sent, %v", cmd, comm.ErrNotConnected)
		return motion.Error
	}
	if c.opts.FastMode {
		return c.sendFast(cmd)
	}
	return c.sendVerified(cmd, timeout)
}

func (c *Controller) sendFast(cmd string) motion.Outcome {
	if err := c.dev.Send([]byte(cmd)); err != nil {
		log.Printf("stage: fire-and-forget write of %s failed: %v", cmd, err)
		return motion.NACK
	}
	c.Sleep(c.opts.FastSettle)
	return motion.OK
}

func (c *Controller) sendVerified(cmd string, timeout time.Duration) motion.Outcome {
	wait := c.opts.Timeout
	if timeout > 0 {
		if err := c.dev.SetReadTimeout(timeout); err != nil {
			log.Printf("stage: setting timeout %v for %s: %v", timeout, cmd, err)
			return motion.Error
		}
		defer func() {
			if err := c.dev.SetReadTimeout(c.opts.Timeout); err != nil {
				log.Printf("stage: restoring timeout %v after %s: %v", c.opts.Timeout, cmd, err)
			}
		}()
		wait = timeout
	}

	loopback := cmd == c.opts.Loopback
	attempt := 0
	op := func() error {
		attempt++
		if err := c.dev.ResetBuffers(); err != nil {
			return backoff.Permanent(err)
		}
		if err := c.dev.Send([]byte(cmd)); err != nil {
			return backoff.Permanent(err)
		}
		raw, err := c.dev.RecvLine(wait)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp := strings.TrimSpace(string(raw))
		switch {
		case loopback && resp == c.opts.Loopback:
			return nil
		case !loopback && resp == ACK:
			return nil
		case resp == NACKResponse:
			log.Printf("stage: %s refused (attempt %d of %d)", cmd, attempt, c.opts.MaxRetries+1)
			return errNACK
		case resp == "":
			log.Printf("stage: no response to %s within %v (attempt %d of %d)", cmd, wait, attempt, c.opts.MaxRetries+1)
			return errNACK
		default:
			log.Printf("stage: unexpected response %q to %s (attempt %d of %d)", resp, cmd, attempt, c.opts.MaxRetries+1)
			return errNACK
		}
	}
	// WithMaxRetries treats 0 as unlimited
	var b backoff.BackOff = &backoff.StopBackOff{}
	if c.opts.MaxRetries > 0 {
		b = backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.RetryDelay), uint64(c.opts.MaxRetries))
	}
	err := backoff.Retry(op, b)
	switch {
	case err == nil:
		return motion.OK
	case errors.Is(err, errNACK):
		log.Printf("stage: %s failed after %d attempts", cmd, attempt)
		return motion.NACK
	default:
		log.Printf("stage: channel error sending %s: %v", cmd, err)
		return motion.Error
	}
}
