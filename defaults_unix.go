//go:build unix

package forkdaemon

import (
	"os"

	"golang.org/x/sys/unix"
)

var defaultTerminationSignals = []os.Signal{unix.SIGTERM, os.Interrupt, unix.SIGQUIT}
