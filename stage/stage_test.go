package stage_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photonlab/scanctl/comm"
	"github.com/photonlab/scanctl/motion"
	"github.com/photonlab/scanctl/stage"
)

var testOpts = stage.Options{
	Timeout:    2 * time.Second,
	MaxRetries: 3,
	RetryDelay: time.Millisecond,
	FastSettle: 500 * time.Millisecond,
}

func newController(t *testing.T, respond comm.Responder, opts stage.Options) (*stage.Controller, *comm.MockPort) {
	t.Helper()
	port := comm.NewMockPort(respond)
	rd := comm.NewRemoteDevice("mock", true, nil, opts.Timeout)
	rd.Dial = port.Dialer()
	require.NoError(t, rd.Open())
	return stage.New(&rd, opts), port
}

func reply(s string) comm.Responder {
	return func([]byte) []byte { return []byte(s) }
}

func echo(written []byte) []byte {
	return append(append([]byte{}, written...), '\r', '\n')
}

func TestSendOK(t *testing.T) {
	c, port := newController(t, reply("$OK#\r\n"), testOpts)
	assert.Equal(t, motion.OK, c.Send("$MLS50#", 0))
	assert.Equal(t, []string{"$MLS50#"}, port.Written())
	assert.Equal(t, 1, port.InputResets)
	assert.Equal(t, 1, port.OutputResets)
}

func TestRetriesExactlyMaxPlusOne(t *testing.T) {
	cases := map[string]comm.Responder{
		"silent":     nil,
		"nack":       reply("$NACK#\n"),
		"unexpected": reply("$BUSY#\n"),
	}
	for name, respond := range cases {
		t.Run(name, func(t *testing.T) {
			c, port := newController(t, respond, testOpts)
			assert.Equal(t, motion.NACK, c.Send("$ORI#", 0))
			assert.Len(t, port.Written(), testOpts.MaxRetries+1)
		})
	}
}

func TestZeroRetriesIsOneAttempt(t *testing.T) {
	opts := testOpts
	opts.MaxRetries = 0
	c, port := newController(t, nil, opts)
	assert.Equal(t, motion.NACK, c.Send("$ORI#", 0))
	assert.Len(t, port.Written(), 1)
}

func TestNACKThenOK(t *testing.T) {
	n := 0
	respond := func([]byte) []byte {
		n++
		if n < 3 {
			return []byte("$NACK#\n")
		}
		return []byte("$OK#\n")
	}
	c, port := newController(t, respond, testOpts)
	assert.Equal(t, motion.OK, c.Send("$SLD0,1#", 0))
	assert.Len(t, port.Written(), 3)
}

func TestTimeoutOverrideRestored(t *testing.T) {
	for name, respond := range map[string]comm.Responder{"success": reply("$OK#\n"), "failure": nil} {
		t.Run(name, func(t *testing.T) {
			c, port := newController(t, respond, testOpts)
			c.Send("$ORI#", 15*time.Second)
			assert.Equal(t, []time.Duration{2 * time.Second, 15 * time.Second, 2 * time.Second}, port.Timeouts)
			assert.Equal(t, 2*time.Second, port.Timeout)
		})
	}
}

func TestNoOverrideLeavesTimeoutAlone(t *testing.T) {
	c, port := newController(t, reply("$OK#\n"), testOpts)
	c.Send("$SRD#", 0)
	assert.Equal(t, []time.Duration{2 * time.Second}, port.Timeouts)
}

func TestLoopbackNeedsEcho(t *testing.T) {
	c, port := newController(t, echo, testOpts)
	assert.Equal(t, motion.OK, motion.Loopback(c))
	assert.Len(t, port.Written(), 1)

	c, port = newController(t, reply("$OK#\n"), testOpts)
	assert.Equal(t, motion.NACK, motion.Loopback(c), "an ACK is not an echo")
	assert.Len(t, port.Written(), testOpts.MaxRetries+1)
}

func TestConfiguredLoopback(t *testing.T) {
	opts := testOpts
	opts.Loopback = "$PING#"
	c, port := newController(t, echo, opts)
	assert.Equal(t, "$PING#", c.LoopbackCommand())
	assert.Equal(t, motion.OK, motion.Loopback(c))
	assert.Equal(t, []string{"$PING#"}, port.Written())

	c, _ = newController(t, echo, opts)
	assert.Equal(t, motion.NACK, c.Send("$UARTLOOP#", 0), "the default token now expects an ACK")

	sim, _, err := stage.NewSimulated(opts)
	require.NoError(t, err)
	assert.Equal(t, motion.OK, motion.Loopback(sim))
}

func TestLoopbackRestoresTimeout(t *testing.T) {
	c, port := newController(t, echo, testOpts)
	assert.Equal(t, motion.OK, c.Send("$UARTLOOP#", 5*time.Second))
	assert.Equal(t, 2*time.Second, port.Timeout)
}

func TestFireAndForget(t *testing.T) {
	opts := testOpts
	opts.FastMode = true
	c, port := newController(t, nil, opts)
	var slept []time.Duration
	c.Sleep = func(d time.Duration) { slept = append(slept, d) }

	assert.Equal(t, motion.OK, c.Send("$MLS50#", 15*time.Second))
	assert.Equal(t, []string{"$MLS50#"}, port.Written())
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, slept)
	assert.Zero(t, port.InputResets, "fire-and-forget does not touch the buffers")
	assert.Equal(t, []time.Duration{2 * time.Second}, port.Timeouts)
}

func TestFireAndForgetWriteFailure(t *testing.T) {
	opts := testOpts
	opts.FastMode = true
	c, port := newController(t, nil, opts)
	c.Sleep = func(time.Duration) {}
	port.WriteError = errors.New("usb unplugged")
	assert.Equal(t, motion.NACK, c.Send("$ORI#", 0))
}

func TestChannelErrorIsNotRetried(t *testing.T) {
	c, port := newController(t, reply("$OK#\n"), testOpts)
	port.WriteError = errors.New("usb unplugged")
	assert.Equal(t, motion.Error, c.Send("$ORI#", 0))
	assert.Empty(t, port.Written())
	assert.Equal(t, 1, port.InputResets)
}

func TestClosed(t *testing.T) {
	c, port := newController(t, reply("$OK#\n"), testOpts)
	require.NoError(t, c.Close())
	assert.True(t, port.Closed)
	assert.NoError(t, c.Close())
	assert.Equal(t, motion.Error, c.Send("$ORI#", 0))
}

func TestLampSelectors(t *testing.T) {
	c, port := newController(t, reply("$OK#\n"), testOpts)
	assert.Equal(t, motion.OK, motion.Lamp(c, 2, true, 2*time.Second))
	assert.Equal(t, []string{"$SLD0,1#", "$SLD1,1#"}, port.Written())
}

func TestOutcomeErr(t *testing.T) {
	assert.NoError(t, motion.OK.Err("$ORI#"))
	err := motion.NACK.Err("$ORI#")
	var cerr motion.CommandError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "command $ORI#: NACK", err.Error())
}

func TestSimulated(t *testing.T) {
	c, port, err := stage.NewSimulated(testOpts)
	require.NoError(t, err)
	assert.Equal(t, motion.OK, c.Send("$MLS50#", 0))
	assert.Equal(t, motion.OK, motion.Loopback(c))
	assert.Equal(t, motion.NACK, c.Send("MLS50", 0))
	assert.Len(t, port.Written(), 2+testOpts.MaxRetries+1)
}
