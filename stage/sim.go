package stage

import (
	"strings"

	"github.com/photonlab/scanctl/command"
	"github.com/photonlab/scanctl/comm"
)

// Simulate answers like a healthy controller: the loopback token is echoed,
// well-formed commands are acknowledged, and anything else is refused.
func Simulate(written []byte) []byte {
	return Simulator(command.LoopbackToken)(written)
}

// Simulator is Simulate with loopback as the echoed self-test command
func Simulator(loopback string) comm.Responder {
	return func(written []byte) []byte {
		s := strings.TrimSpace(string(written))
		if s == loopback {
			return []byte(s + "\r\n")
		}
		if _, err := command.Parse(s); err != nil {
			return []byte(NACKResponse + "\r\n")
		}
		return []byte(ACK + "\r\n")
	}
}

// NewSimulated returns a controller connected to a simulated device, and
// the port it talks over
func NewSimulated(opts Options) (*Controller, *comm.MockPort, error) {
	lb := opts.Loopback
	if lb == "" {
		lb = command.LoopbackToken
	}
	port := comm.NewMockPort(Simulator(lb))
	rd := comm.NewRemoteDevice("simulated", true, nil, opts.Timeout)
	rd.Dial = port.Dialer()
	if err := rd.Open(); err != nil {
		return nil, nil, err
	}
	return New(&rd, opts), port, nil
}
