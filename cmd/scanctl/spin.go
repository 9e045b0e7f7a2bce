package main

import (
	"os"
	"time"

	"github.com/theckman/yacspin"
)

// spinSleep sleeps for d, showing a spinner for waits of a second or more
func spinSleep(d time.Duration) {
	if d < time.Second {
		time.Sleep(d)
		return
	}
	spinner, err := yacspin.New(yacspin.Config{
		Writer:        os.Stdout,
		Frequency:     100 * time.Millisecond,
		CharSet:       yacspin.CharSets[14],
		Suffix:        " ",
		Message:       "waiting " + d.String(),
		StopCharacter: "done",
		StopColors:    []string{"fgGreen"},
	})
	if err != nil || spinner.Start() != nil {
		time.Sleep(d)
		return
	}
	time.Sleep(d)
	spinner.Stop()
}
