package forkdaemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopNotRunning(t *testing.T) {
	fs := newFakeSystem(100)
	d := newTestDaemon(t, fs)

	require.NoError(t, d.Stop(t.Context()))
	assert.Empty(t, fs.terminatedPIDs())
}

func TestStopGraceful(t *testing.T) {
	fs := newFakeSystem(100)
	d := newTestDaemon(t, fs, WithKillWait(time.Second))
	writePID(t, d.PIDFile(), 4242)
	fs.setAlive(4242, true)

	stopped := make(chan struct{})
	fs.terminate = func(pid int) error {
		go func() {
			defer close(stopped)
			time.Sleep(30 * time.Millisecond)
			fs.setAlive(pid, false)
		}()
		return nil
	}

	require.NoError(t, d.Stop(t.Context()))
	<-stopped
	assert.Equal(t, []int{4242}, fs.terminatedPIDs())

	running, err := d.IsRunning()
	require.NoError(t, err)
	assert.False(t, running)
	assert.NoFileExists(t, d.PIDFile())
}

func TestStopTimeout(t *testing.T) {
	const wait = 150 * time.Millisecond

	fs := newFakeSystem(100)
	d := newTestDaemon(t, fs, WithKillWait(wait))
	writePID(t, d.PIDFile(), 4242)
	fs.setAlive(4242, true)

	started := time.Now()
	err := d.Stop(t.Context())
	elapsed := time.Since(started)

	var timeoutErr *TerminationTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 4242, timeoutErr.PID)
	assert.Equal(t, "forkdaemon: failed to kill process 4242 within 150ms", err.Error())
	assert.GreaterOrEqual(t, elapsed, wait)

	running, err := d.IsRunning()
	require.NoError(t, err)
	assert.True(t, running, "worker is left running")
}

func TestStopContextCanceled(t *testing.T) {
	fs := newFakeSystem(100)
	d := newTestDaemon(t, fs, WithKillWait(time.Minute))
	writePID(t, d.PIDFile(), 4242)
	fs.setAlive(4242, true)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	err := d.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStopSignalFailure(t *testing.T) {
	fs := newFakeSystem(100)
	d := newTestDaemon(t, fs)
	writePID(t, d.PIDFile(), 4242)
	fs.setAlive(4242, true)
	denied := errors.New("operation not permitted")
	fs.terminate = func(int) error { return denied }

	err := d.Stop(t.Context())
	require.ErrorIs(t, err, denied)
}

func TestRestartStopsThenStarts(t *testing.T) {
	fs := newFakeSystem(100)
	fs.forkErr = errors.New("no fork in unit tests")
	d := newTestDaemon(t, fs, WithKillWait(time.Second))
	writePID(t, d.PIDFile(), 4242)
	fs.setAlive(4242, true)
	fs.terminate = func(pid int) error {
		fs.setAlive(pid, false)
		return nil
	}

	_, err := d.Restart(t.Context())

	var forkErr *ForkError
	require.ErrorAs(t, err, &forkErr)
	assert.Equal(t, []int{4242}, fs.terminatedPIDs())
	assert.Equal(t, 1, fs.forks())
}
