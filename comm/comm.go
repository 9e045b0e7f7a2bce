/*Package comm provides a byte channel to lab hardware controlled over a serial
line or a TCP port server.

Most usages of this package will boil down to:
	1.  build a RemoteDevice with NewRemoteDevice, pointing at a serial port
		name (COM7, /dev/ttyUSB0) or a host:port for a port server.
	2.  Open it; opening is retried with an exponential backoff and is the only
		place an error from this package should be considered fatal.
	3.  use Send and RecvLine to exchange terminator-delimited messages,
		adjusting the read timeout with SetReadTimeout where a message needs it.

A minimal example for a controller that answers "$OK#\n":

	rd := comm.NewRemoteDevice("/dev/ttyUSB0", true, &comm.SerialOptions{Baud: 38400}, 2*time.Second)
	if err := rd.Open(); err != nil {
		return err
	}
	defer rd.Close()
	resp, err := rd.SendRecv([]byte("$UARTLOOP#"))
*/
package comm

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

var (
	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrNoSerialConf is generated when a serial device is opened without options
	ErrNoSerialConf = errors.New("serial device has no serial options")
)

// Port is a byte channel with a controllable read timeout and discardable
// buffers.  A read that times out returns (0, nil).
//
// go.bug.st/serial.Port satisfies this interface directly.
type Port interface {
	io.ReadWriteCloser

	// SetReadTimeout sets the maximum time a single Read may block
	SetReadTimeout(time.Duration) error

	// ResetInputBuffer discards bytes received but not yet read
	ResetInputBuffer() error

	// ResetOutputBuffer discards bytes written but not yet transmitted
	ResetOutputBuffer() error
}

// Dialer opens a Port
type Dialer func() (Port, error)

/*RemoteDevice has an address and owns exactly one Port while open.

It is not safe for concurrent use; one measurement run owns it.
*/
type RemoteDevice struct {
	// Addr is a serial port name or a host:port
	Addr string

	// IsSerial selects the serial backend, otherwise TCP
	IsSerial bool

	// Conn is the open port, nil when closed
	Conn Port

	// Terminator ends every received message
	Terminator byte

	// Timeout is the default read timeout applied on open
	Timeout time.Duration

	// Dial opens the port.  NewRemoteDevice fills it from IsSerial; tests
	// replace it.
	Dial Dialer
}

// NewRemoteDevice creates a new RemoteDevice instance.  opts is only used if
// serial is true.
func NewRemoteDevice(addr string, serial bool, opts *SerialOptions, timeout time.Duration) RemoteDevice {
	rd := RemoteDevice{
		Addr:       addr,
		IsSerial:   serial,
		Terminator: '\n',
		Timeout:    timeout,
	}
	if serial {
		rd.Dial = func() (Port, error) {
			if opts == nil {
				return nil, ErrNoSerialConf
			}
			return OpenSerial(addr, *opts)
		}
	} else {
		rd.Dial = func() (Port, error) {
			return DialTCP(addr, 3*time.Second)
		}
	}
	return rd
}

// Open the connection, setting the Conn variable
func (rd *RemoteDevice) Open() error {
	if rd.Conn != nil {
		return nil
	}
	if rd.Dial == nil {
		return ErrNotConnected
	}
	// serial adapters that were just plugged in, and port servers that were
	// just released by another client, both take a moment to accept us
	var conn Port
	op := func() error {
		c, err := rd.Dial()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") || errors.Is(err, ErrNoSerialConf) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return fmt.Errorf("open %s: %w", rd.Addr, err)
	}
	if rd.Timeout > 0 {
		if err := conn.SetReadTimeout(rd.Timeout); err != nil {
			conn.Close()
			return fmt.Errorf("set read timeout on %s: %w", rd.Addr, err)
		}
	}
	rd.Conn = conn
	return nil
}

// IsOpen returns true if the device holds an open port
func (rd *RemoteDevice) IsOpen() bool {
	return rd.Conn != nil
}

// Close the connection, nil-ing the Conn variable.  Closing a closed device
// is a no-op.
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	return err
}

// SetReadTimeout changes the read timeout of the open port
func (rd *RemoteDevice) SetReadTimeout(d time.Duration) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	return rd.Conn.SetReadTimeout(d)
}

// ResetBuffers discards any stale input and unsent output
func (rd *RemoteDevice) ResetBuffers() error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	if err := rd.Conn.ResetInputBuffer(); err != nil {
		return err
	}
	return rd.Conn.ResetOutputBuffer()
}

// Send writes data to the remote as-is
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	n, err := rd.Conn.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

// RecvLine reads until the terminator or until timeout elapses, whichever
// comes first, and returns the bytes with the terminator stripped.  A timeout
// is not an error; it yields whatever arrived, which is often nothing.
func (rd *RemoteDevice) RecvLine(timeout time.Duration) ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	var (
		buf      []byte
		one      = make([]byte, 1)
		deadline = time.Now().Add(timeout)
	)
	for time.Now().Before(deadline) {
		n, err := rd.Conn.Read(one)
		if err != nil {
			if err == io.EOF {
				return buf, nil
			}
			return buf, err
		}
		if n == 0 {
			// the port's own read timeout expired
			return buf, nil
		}
		if one[0] == rd.Terminator {
			return buf, nil
		}
		buf = append(buf, one[0])
	}
	return buf, nil
}

// SendRecv sends a buffer then returns the response with the terminator
// stripped, waiting up to the device's default timeout
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	if err := rd.Send(b); err != nil {
		return nil, err
	}
	return rd.RecvLine(rd.Timeout)
}
