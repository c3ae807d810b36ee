package forkdaemon

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// State is the lifecycle state of a worker as seen by its controller.
type State int

const (
	// StateNotStarted means no worker has been recorded by this controller.
	StateNotStarted State = iota
	// StateRunning means the registry names a live worker.
	StateRunning
	// StateFinished means a worker was recorded and is gone.
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return "not started"
	}
}

// Status is a point-in-time view of the worker.
type Status struct {
	State State
	PID   int
}

// WatchEvent carries a status change, or an error observed while watching.
type WatchEvent struct {
	Status Status
	Err    error
}

// WatchCleanupFunc stops a watch and releases its resources.
type WatchCleanupFunc func() error

// Status reports the worker's current state.
func (d *Daemon) Status() (Status, error) {
	pid, err := d.PID(true)
	if err != nil {
		return Status{}, err
	}
	if pid != 0 {
		return Status{State: StateRunning, PID: pid}, nil
	}

	if d.ranBefore() {
		return Status{State: StateFinished}, nil
	}
	return Status{State: StateNotStarted}, nil
}

// Watch emits the current status, then every change of it. Changes are detected
// through filesystem events on the registry, with a periodic re-check for workers
// that die without touching it.
func (d *Daemon) Watch(ctx context.Context) (<-chan WatchEvent, WatchCleanupFunc, error) {
	dir := filepath.Dir(d.registry.path)
	base := filepath.Base(d.registry.path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, nil, err
	}

	ch := make(chan WatchEvent, 10)
	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
		close(ch)
	})

	var (
		mu        sync.Mutex
		debouncer *time.Timer
		last      Status
		sent      bool
	)
	trigger := make(chan struct{}, 1)

	send := func(ev WatchEvent) {
		select {
		case ch <- ev:
		case <-sctx.Stopping():
		}
	}

	readAndSend := func() {
		if sctx.IsStopping() {
			return
		}
		status, err := d.Status()
		if err != nil {
			send(WatchEvent{Err: err})
			return
		}

		changed := !sent || status != last
		last, sent = status, true
		if changed {
			send(WatchEvent{Status: status})
		}
	}

	cleanup := func() error {
		sctx.Stop(defaultStopGrace)
		return sctx.Wait()
	}

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			mu.Lock()
			if debouncer != nil {
				debouncer.Stop()
			}
			mu.Unlock()
		})

		readAndSend()

		poll := time.NewTicker(d.cfg.watchPollInterval)
		defer poll.Stop()

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case <-poll.C:
				readAndSend()

			case <-trigger:
				readAndSend()

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				mu.Lock()
				if debouncer != nil {
					debouncer.Stop()
				}
				debouncer = time.AfterFunc(defaultWatchDebounce, func() {
					select {
					case trigger <- struct{}{}:
					default:
					}
				})
				mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil {
					send(WatchEvent{Err: err})
				}
			}
		}
		return nil
	})

	return ch, cleanup, nil
}

// Wait blocks until the worker reaches one of states, or until any change when
// states is empty.
func (d *Daemon) Wait(ctx context.Context, states ...State) (Status, error) {
	events, cleanup, err := d.Watch(ctx)
	if err != nil {
		return Status{}, err
	}
	defer func() { _ = cleanup() }()

	first := true
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return Status{}, ctx.Err()
			}
			if event.Err != nil {
				return Status{}, event.Err
			}
			if len(states) == 0 {
				if first {
					first = false
					continue
				}
				return event.Status, nil
			}
			for _, s := range states {
				if event.Status.State == s {
					return event.Status, nil
				}
			}
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
	}
}
