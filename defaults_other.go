//go:build !unix

package forkdaemon

import (
	"os"
	"syscall"
)

var defaultTerminationSignals = []os.Signal{syscall.SIGTERM, os.Interrupt}
