package forkdaemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
)

var errMalformedRegistry = errors.New("forkdaemon: malformed pid file")

// registry is the pid file shared by controller and worker. The worker is its
// only writer; writes replace the whole value atomically.
type registry struct {
	path   string
	remove func(string) error
}

func newRegistry(path string) registry {
	return registry{path: path, remove: os.Remove}
}

// read returns the recorded pid, or 0 when the file is absent or empty.
func (r registry) read() (int, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("forkdaemon: read pid file %q: %w", r.path, err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0, errMalformedRegistry
	}
	return pid, nil
}

func (r registry) write(pid int) error {
	return renameio.WriteFile(r.path, []byte(strconv.Itoa(pid)), registryPerm)
}

// clear removes the file. A file that is already gone is not an error.
func (r registry) clear() error {
	if err := r.remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
