package forkdaemon

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, events <-chan WatchEvent) WatchEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no watch event")
	}
	return WatchEvent{}
}

func TestWatch(t *testing.T) {
	fs := newFakeSystem(100)
	d := newTestDaemon(t, fs, WithWatchPollInterval(20*time.Millisecond))

	events, cleanup, err := d.Watch(t.Context())
	require.NoError(t, err)

	ev := nextEvent(t, events)
	require.NoError(t, ev.Err)
	assert.Equal(t, Status{State: StateNotStarted}, ev.Status)

	fs.setAlive(4242, true)
	writePID(t, d.PIDFile(), 4242)
	ev = nextEvent(t, events)
	require.NoError(t, ev.Err)
	assert.Equal(t, Status{State: StateRunning, PID: 4242}, ev.Status)

	// dies without touching the registry; found by the poll
	fs.setAlive(4242, false)
	ev = nextEvent(t, events)
	require.NoError(t, ev.Err)
	assert.Equal(t, Status{State: StateFinished}, ev.Status)
	assert.NoFileExists(t, d.PIDFile())

	require.NoError(t, cleanup())

	_, ok := <-events
	assert.False(t, ok, "events channel is closed by cleanup")
}

func TestWaitForState(t *testing.T) {
	fs := newFakeSystem(100)
	d := newTestDaemon(t, fs, WithWatchPollInterval(20*time.Millisecond))
	fs.setAlive(4242, true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(50 * time.Millisecond)
		writePID(t, d.PIDFile(), 4242)
	}()

	st, err := d.Wait(t.Context(), StateRunning)
	<-done
	require.NoError(t, err)
	assert.Equal(t, Status{State: StateRunning, PID: 4242}, st)
}

func TestWaitForAnyChange(t *testing.T) {
	fs := newFakeSystem(100)
	d := newTestDaemon(t, fs, WithWatchPollInterval(20*time.Millisecond))
	writePID(t, d.PIDFile(), 4242)
	fs.setAlive(4242, true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(50 * time.Millisecond)
		fs.setAlive(4242, false)
		_ = os.Remove(d.PIDFile())
	}()

	st, err := d.Wait(t.Context())
	<-done
	require.NoError(t, err)
	assert.Equal(t, StateFinished, st.State)
}

func TestWaitContextDone(t *testing.T) {
	fs := newFakeSystem(100)
	d := newTestDaemon(t, fs, WithWatchPollInterval(20*time.Millisecond))

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Millisecond)
	defer cancel()

	_, err := d.Wait(ctx, StateRunning)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "not started", StateNotStarted.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "finished", StateFinished.String())
}
