package forkdaemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	godaemon "github.com/sevlyar/go-daemon"
)

const snapshotEnv = "_FORKDAEMON_SNAPSHOT"

// WasReborn reports whether the current process is a worker forked by Start.
func WasReborn() bool {
	return godaemon.WasReborn()
}

// The Daemon is the controller handle of a background worker. In the process that
// calls Start it launches, queries and stops the worker; in the reborn worker process
// the same Start call runs the tick loop and never returns.
type Daemon struct {
	cfg     config
	snap    snapshot
	payload Payload

	registry   registry
	background bool
	nested     bool

	mu sync.Mutex
	// waited is set by the first startup wait of this instance; pending re-arms it
	// for every launch.
	waited   bool
	pending  bool
	recorded bool
	reaper   *reaper
}

// New resolves the configuration once and returns the Daemon for payload.
func New(payload Payload, opts ...Option) (*Daemon, error) {
	if payload == nil {
		return nil, errors.New("forkdaemon: payload is required")
	}

	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	d := &Daemon{cfg: cfg, payload: payload}

	if raw := os.Getenv(snapshotEnv); raw != "" && WasReborn() {
		var s snapshot
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("forkdaemon: decode worker snapshot: %w", err)
		}
		if s.Name == cfg.name {
			d.snap = s
			d.background = true
		} else {
			d.nested = true
		}
	}

	if !d.background {
		s, err := cfg.resolve()
		if err != nil {
			return nil, err
		}
		d.snap = s
	}

	d.registry = newRegistry(d.snap.PIDFile)
	return d, nil
}

// PIDFile returns the registry path.
func (d *Daemon) PIDFile() string { return d.snap.PIDFile }

// TickPeriod returns the resolved period between payload invocations.
func (d *Daemon) TickPeriod() time.Duration { return d.snap.TickPeriod }

// IsBackground reports whether this process is the detached worker.
func (d *Daemon) IsBackground() bool { return d.background }

// Start launches the worker and returns its pid. If the registry already names a live
// worker, that pid is returned and nothing is spawned.
//
// Inside the worker process Start runs the tick loop, then the finalizer, removes the
// registry and exits the process.
func (d *Daemon) Start(ctx context.Context) (int, error) {
	if d.background {
		d.runWorker(ctx)
		return 0, nil
	}
	if d.nested {
		return 0, &ForkError{Err: errors.New("daemon started from inside another daemon's worker")}
	}

	pid, err := d.PID(true)
	if err != nil {
		return 0, err
	}
	if pid != 0 {
		d.cfg.logger.InfoContext(ctx, "worker already running", slog.Int("pid", pid))
		return pid, nil
	}

	r := d.installReaper()

	proc, err := d.cfg.sys.Fork(d.workerEnv(), d.cfg.logFile)
	if err != nil {
		return 0, &ForkError{Err: err}
	}
	if proc == nil {
		return 0, &ForkError{Err: errors.New("no child process")}
	}
	r.watch(proc)

	d.mu.Lock()
	d.pending = true
	d.mu.Unlock()

	if d.cfg.afterFork != nil {
		d.cfg.afterFork(false)
	}

	d.cfg.logger.InfoContext(ctx, "worker started", slog.Int("pid", proc.Pid), slog.String("pidFile", d.snap.PIDFile))
	return proc.Pid, nil
}

// Restart stops the worker, then starts a new one. There is a window in which
// neither is running.
func (d *Daemon) Restart(ctx context.Context) (int, error) {
	if err := d.Stop(ctx); err != nil {
		return 0, err
	}
	return d.Start(ctx)
}

// PID returns the pid of the running worker, or 0 when it is not running.
//
// When waitForStartup is set and the registry is empty, the first such query on this
// instance, and the first one after each launch by this instance, polls the registry
// for a short bounded time first. A worker started by another process may not have
// recorded itself yet.
// A registry naming a dead process is removed.
func (d *Daemon) PID(waitForStartup bool) (int, error) {
	pid, err := d.registry.read()
	if errors.Is(err, errMalformedRegistry) {
		return 0, d.clearStale(0)
	}
	if err != nil {
		return 0, err
	}

	if pid == 0 && waitForStartup && d.takeStartupWait() {
		pid, err = d.waitForRegistry()
		if errors.Is(err, errMalformedRegistry) {
			return 0, d.clearStale(0)
		}
		if err != nil {
			return 0, err
		}
	}
	if pid == 0 {
		return 0, nil
	}

	d.mu.Lock()
	d.recorded = true
	d.mu.Unlock()

	if d.alive(pid) {
		return pid, nil
	}
	return 0, d.clearStale(pid)
}

// IsRunning reports whether a live worker is recorded in the registry.
func (d *Daemon) IsRunning() (bool, error) {
	pid, err := d.PID(true)
	return pid != 0, err
}

// HasFinished reports whether a worker was recorded at some point, or launched by
// this Daemon, and is no longer running. It is false before the first start.
func (d *Daemon) HasFinished() (bool, error) {
	pid, err := d.PID(true)
	if err != nil {
		return false, err
	}
	return pid == 0 && d.ranBefore(), nil
}

// Close releases the controller's resources. It waits a short grace period for the
// workers this Daemon launched to be reaped; workers still running after it are
// left to init once this process exits.
func (d *Daemon) Close() error {
	d.mu.Lock()
	r := d.reaper
	d.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.close(defaultStopGrace)
}

func (d *Daemon) runWorker(ctx context.Context) {
	code := exitCodeClean
	if err := d.cfg.sys.Detach(); err != nil {
		d.cfg.logger.ErrorContext(ctx, "worker detach failed", slog.String("error", err.Error()))
		d.cfg.sys.OSExit(exitCodeError)
		return
	}
	if d.cfg.afterFork != nil {
		d.cfg.afterFork(true)
	}

	w := newWorker(d.snap, d.payload, d.cfg)
	if err := w.run(ctx); err != nil {
		code = exitCodeError
	}
	d.cfg.sys.OSExit(code)
}

func (d *Daemon) workerEnv() []string {
	payload, _ := json.Marshal(d.snap)
	env := make([]string, 0, len(os.Environ())+len(d.cfg.env)+1)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, snapshotEnv+"=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, d.cfg.env...)
	return append(env, snapshotEnv+"="+string(payload))
}

func (d *Daemon) installReaper() *reaper {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reaper == nil {
		d.reaper = newReaper(d.cfg.logger)
	}
	return d.reaper
}

func (d *Daemon) takeStartupWait() bool {
	if d.background {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waited && !d.pending {
		return false
	}
	d.waited, d.pending = true, false
	return true
}

func (d *Daemon) waitForRegistry() (int, error) {
	for range d.cfg.registryWaitAttempts {
		time.Sleep(d.cfg.registryWaitInterval)
		pid, err := d.registry.read()
		if err != nil || pid != 0 {
			return pid, err
		}
		if d.allExited() {
			return 0, nil
		}
	}
	return 0, nil
}

// allExited reports whether the reaper has seen the launched worker exit, in which
// case waiting for its first registry write is pointless.
func (d *Daemon) allExited() bool {
	d.mu.Lock()
	r := d.reaper
	d.mu.Unlock()
	if r == nil {
		return false
	}
	return r.allExited()
}

// ranBefore reports whether a worker was ever seen in the registry or reaped.
// A worker that fails fast can exit between two registry polls.
func (d *Daemon) ranBefore() bool {
	d.mu.Lock()
	recorded, r := d.recorded, d.reaper
	d.mu.Unlock()
	return recorded || (r != nil && r.reapedAny())
}

func (d *Daemon) alive(pid int) bool {
	d.mu.Lock()
	r := d.reaper
	d.mu.Unlock()
	if r != nil && r.hasExited(pid) {
		return false
	}
	return d.cfg.sys.Alive(pid)
}

func (d *Daemon) clearStale(pid int) error {
	if err := d.registry.clear(); err != nil {
		return &StaleRegistryError{Path: d.registry.path, PID: pid, Err: err}
	}
	d.cfg.logger.Debug("stale pid file removed", slog.String("pidFile", d.registry.path), slog.Int("pid", pid))
	return nil
}
