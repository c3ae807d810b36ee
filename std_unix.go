//go:build unix

package forkdaemon

import (
	"errors"
	"os"

	godaemon "github.com/sevlyar/go-daemon"
	"golang.org/x/sys/unix"
)

func (std) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	// EPERM: the process exists but belongs to someone else.
	return err == nil || errors.Is(err, unix.EPERM)
}

func (std) Terminate(pid int) error {
	err := unix.Kill(pid, unix.SIGTERM)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func (std) Fork(env []string, logFile string) (*os.Process, error) {
	dctx := &godaemon.Context{
		Env:         env,
		LogFileName: logFile,
		LogFilePerm: logFilePerm,
	}
	return dctx.Reborn()
}

func (std) Detach() error {
	// In the reborn process Reborn reads the parent's context, swaps stdin for
	// /dev/null and returns a nil child.
	dctx := &godaemon.Context{}
	_, err := dctx.Reborn()
	return err
}
