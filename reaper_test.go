package forkdaemon

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const envTestChild = "FORKDAEMON_TEST_CHILD"

// TestReaperChildProcess is the body of the processes started by the reaper tests.
func TestReaperChildProcess(t *testing.T) {
	switch os.Getenv(envTestChild) {
	case "sleep":
		time.Sleep(time.Minute)
	case "":
		t.Skip("only runs as a child of the reaper tests")
	}
}

func startChild(t *testing.T, mode string) *os.Process {
	t.Helper()
	if testing.Short() {
		t.Skip("starts the test binary")
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestReaperChildProcess$")
	cmd.Env = append(os.Environ(), envTestChild+"="+mode)
	require.NoError(t, cmd.Start())
	return cmd.Process
}

func TestReaperReapsExitedChild(t *testing.T) {
	proc := startChild(t, "exit")
	r := newReaper(logger(t))

	r.watch(proc)

	require.Eventually(t, r.allExited, 10*time.Second, 10*time.Millisecond)
	assert.True(t, r.hasExited(proc.Pid))
	assert.True(t, r.reapedAny())
	require.NoError(t, r.close(defaultStopGrace))
}

func TestReaperWatchAfterClose(t *testing.T) {
	r := newReaper(logger(t))
	require.NoError(t, r.close(defaultStopGrace))

	proc := startChild(t, "exit")
	r.watch(proc)

	require.Eventually(t, r.allExited, 10*time.Second, 10*time.Millisecond)
	assert.True(t, r.hasExited(proc.Pid))
}

func TestReaperCloseIsBoundedByGrace(t *testing.T) {
	proc := startChild(t, "sleep")
	r := newReaper(logger(t))
	r.watch(proc)

	started := time.Now()
	require.NoError(t, r.close(50*time.Millisecond))
	assert.Less(t, time.Since(started), time.Second)
	assert.False(t, r.allExited(), "child is still running")

	require.NoError(t, proc.Kill())
	require.Eventually(t, r.allExited, 10*time.Second, 10*time.Millisecond)
}
