//go:build !unix

package forkdaemon

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("forkdaemon: unsupported platform")

func (std) Alive(int) bool { return false }

func (std) Terminate(int) error { return errUnsupported }

func (std) Fork([]string, string) (*os.Process, error) { return nil, errUnsupported }

func (std) Detach() error { return errUnsupported }
