package forkdaemon

import (
	"fmt"
	"time"
)

// ForkError is returned by Start when the worker process could not be spawned.
type ForkError struct {
	Err error
}

func (e *ForkError) Error() string {
	return fmt.Sprintf("forkdaemon: fork worker: %v", e.Err)
}

func (e *ForkError) Unwrap() error { return e.Err }

// RegistryWriteError is fatal to the worker: a worker whose pid the controller
// cannot read is unsupervisable.
type RegistryWriteError struct {
	Path string
	PID  int
	Err  error
}

func (e *RegistryWriteError) Error() string {
	return fmt.Sprintf("forkdaemon: write pid %d to %q: %v", e.PID, e.Path, e.Err)
}

func (e *RegistryWriteError) Unwrap() error { return e.Err }

// StaleRegistryError is returned when a registry naming a dead process could not
// be removed.
type StaleRegistryError struct {
	Path string
	PID  int
	Err  error
}

func (e *StaleRegistryError) Error() string {
	return fmt.Sprintf("forkdaemon: remove stale pid file %q (pid %d): %v", e.Path, e.PID, e.Err)
}

func (e *StaleRegistryError) Unwrap() error { return e.Err }

// TerminationTimeoutError is returned by Stop when the worker outlives the kill-wait
// budget. The worker is left running.
type TerminationTimeoutError struct {
	PID  int
	Wait time.Duration
}

func (e *TerminationTimeoutError) Error() string {
	return fmt.Sprintf("forkdaemon: failed to kill process %d within %s", e.PID, e.Wait)
}

// PayloadError wraps an error (or recovered panic) produced by the payload on a given tick.
type PayloadError struct {
	Tick int
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("forkdaemon: payload failed on tick %d: %v", e.Tick, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }
