package comm

import (
	"errors"
	"net"
	"os"
	"time"
)

// tcpPort adapts a net.Conn to Port, for controllers reached through a
// serial-to-ethernet port server
type tcpPort struct {
	net.Conn
	timeout time.Duration
}

// DialTCP opens a new TCP connection with a timeout on connect
func DialTCP(addr string, timeout time.Duration) (Port, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &tcpPort{Conn: conn, timeout: timeout}, nil
}

func (t *tcpPort) Read(b []byte) (int, error) {
	if t.timeout > 0 {
		t.Conn.SetReadDeadline(time.Now().Add(t.timeout))
	}
	n, err := t.Conn.Read(b)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (t *tcpPort) SetReadTimeout(d time.Duration) error {
	t.timeout = d
	return nil
}

// ResetInputBuffer drains whatever is already waiting on the socket
func (t *tcpPort) ResetInputBuffer() error {
	buf := make([]byte, 256)
	for {
		t.Conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, err := t.Conn.Read(buf)
		if n == 0 || err != nil {
			break
		}
	}
	return t.Conn.SetReadDeadline(time.Time{})
}

// ResetOutputBuffer is a no-op; the kernel owns unsent TCP data
func (t *tcpPort) ResetOutputBuffer() error {
	return nil
}
