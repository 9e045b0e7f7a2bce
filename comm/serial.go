package comm

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// SerialOptions describes the serial connection parameters used when opening a
// real serial port.
type SerialOptions struct {
	Baud     int    `koanf:"baud" yaml:"baud"`
	DataBits int    `koanf:"databits" yaml:"databits"`
	StopBits int    `koanf:"stopbits" yaml:"stopbits"`
	Parity   string `koanf:"parity" yaml:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o SerialOptions) Normalize() (SerialOptions, error) {
	opts := o
	if opts.Baud <= 0 {
		opts.Baud = 38400
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}
	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// Mode converts the options into the serial.Mode required by go.bug.st/serial
func (o SerialOptions) Mode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.Baud,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// OpenSerial opens the named serial port
func OpenSerial(name string, opts SerialOptions) (Port, error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	return serial.Open(name, mode)
}
