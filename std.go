package forkdaemon

import (
	"os"
	"os/signal"
)

// system is the set of process-level operations the controller and the worker
// depend on. std is the real implementation.
type system interface {
	SignalNotify(c chan<- os.Signal, sig ...os.Signal)
	SignalStop(c chan<- os.Signal)
	OSExit(code int)

	// Alive probes pid without affecting it.
	Alive(pid int) bool
	// Terminate asks pid to shut down gracefully. A pid that is already gone is not an error.
	Terminate(pid int) error
	// Fork spawns a detached copy of the current program.
	Fork(env []string, logFile string) (*os.Process, error)
	// Detach completes the handshake on the worker side of Fork.
	Detach() error
	Getpid() int
}

type std struct{}

func (std) SignalStop(c chan<- os.Signal) {
	signal.Stop(c)
}

func (std) SignalNotify(c chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(c, sig...)
}

func (std) OSExit(code int) {
	os.Exit(code)
}

func (std) Getpid() int {
	return os.Getpid()
}
