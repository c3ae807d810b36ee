package forkdaemon

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"vawter.tech/stopper"
)

// reaper waits on every worker the controller forked so that exited workers do not
// linger as zombies, which would keep answering the liveness probe.
type reaper struct {
	sctx   *stopper.Context
	logger *slog.Logger

	mu      sync.Mutex
	exited  map[int]struct{}
	running int
}

func newReaper(logger *slog.Logger) *reaper {
	return &reaper{
		sctx:   stopper.WithContext(context.Background()),
		logger: logger,
		exited: make(map[int]struct{}),
	}
}

func (r *reaper) watch(proc *os.Process) {
	// pids get reused
	r.mu.Lock()
	delete(r.exited, proc.Pid)
	r.running++
	r.mu.Unlock()

	accepted := r.sctx.Go(func(_ *stopper.Context) error {
		r.reap(proc)
		return nil
	})
	if !accepted {
		// the stopper no longer takes tasks once stopping; the child still needs a waiter
		r.logger.Debug("reaper stopping, waiting on worker outside of it", slog.Int("pid", proc.Pid))
		go r.reap(proc)
	}
}

func (r *reaper) reap(proc *os.Process) {
	state, err := proc.Wait()

	r.mu.Lock()
	r.exited[proc.Pid] = struct{}{}
	r.running--
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("reaping worker failed", slog.Int("pid", proc.Pid), slog.String("error", err.Error()))
		return
	}
	r.logger.Debug("worker reaped", slog.Int("pid", proc.Pid), slog.Int("exitCode", state.ExitCode()))
}

func (r *reaper) hasExited(pid int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.exited[pid]
	return ok
}

func (r *reaper) reapedAny() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exited) > 0
}

func (r *reaper) allExited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running == 0
}

// close waits up to grace for every watched worker to be reaped. The waiters of
// workers still running afterwards stay blocked until those workers exit.
func (r *reaper) close(grace time.Duration) error {
	r.sctx.Stop(grace)

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	poll := time.NewTicker(reaperPollInterval)
	defer poll.Stop()

	for !r.allExited() {
		select {
		case <-deadline.C:
			r.logger.Debug("workers still running, not waiting for them")
			return nil
		case <-poll.C:
		}
	}
	return r.sctx.Wait()
}
