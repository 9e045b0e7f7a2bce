package comm

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by MockPort after Close
var ErrPortClosed = errors.New("mock port closed")

// Responder computes the bytes a mock device sends back after receiving a
// write.  Returning nil means the device stays silent (the read times out).
type Responder func(written []byte) []byte

// MockPort implements Port for testing.  Every Write is recorded and passed
// to Respond; the response is queued for subsequent Reads.  A Read with
// nothing queued behaves like a serial read timeout and returns (0, nil).
type MockPort struct {
	mu sync.Mutex

	// Respond produces the reply to each write
	Respond Responder

	// Writes records every write, in order
	Writes []string

	// Timeouts records every read timeout set, in order
	Timeouts []time.Duration

	// Timeout is the currently active read timeout
	Timeout time.Duration

	// InputResets and OutputResets count buffer resets
	InputResets  int
	OutputResets int

	// WriteError is returned by the next Write if set
	WriteError error

	// Closed indicates whether Close was called
	Closed bool

	pending bytes.Buffer
}

// NewMockPort creates a MockPort that answers with respond
func NewMockPort(respond Responder) *MockPort {
	return &MockPort{Respond: respond}
}

// Read drains queued response bytes
func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return 0, ErrPortClosed
	}
	if m.pending.Len() == 0 {
		return 0, nil
	}
	return m.pending.Read(p)
}

// Write records p and queues the response
func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return 0, ErrPortClosed
	}
	if m.WriteError != nil {
		err := m.WriteError
		m.WriteError = nil
		return 0, err
	}
	m.Writes = append(m.Writes, string(p))
	if m.Respond != nil {
		m.pending.Write(m.Respond(p))
	}
	return len(p), nil
}

// Close marks the port as closed
func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SetReadTimeout records the timeout
func (m *MockPort) SetReadTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timeout = d
	m.Timeouts = append(m.Timeouts, d)
	return nil
}

// ResetInputBuffer discards queued response bytes
func (m *MockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InputResets++
	m.pending.Reset()
	return nil
}

// ResetOutputBuffer counts the reset
func (m *MockPort) ResetOutputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OutputResets++
	return nil
}

// Written returns a copy of every write so far
func (m *MockPort) Written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Writes))
	copy(out, m.Writes)
	return out
}

// Dialer returns a Dialer that always yields this port
func (m *MockPort) Dialer() Dialer {
	return func() (Port, error) { return m, nil }
}
