package forkdaemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"vawter.tech/stopper"
)

// Payload is the unit of work the worker runs once per tick.
type Payload interface {
	Tick(ctx context.Context) error
}

// PayloadFunc adapts a function to Payload.
type PayloadFunc func(ctx context.Context) error

func (f PayloadFunc) Tick(ctx context.Context) error { return f(ctx) }

type workerState int

const (
	workerRunning workerState = iota
	workerStopping
)

// worker is the state of the detached process. It is built from the snapshot and
// never shares memory with the controller.
type worker struct {
	snap     snapshot
	payload  Payload
	finalize func(context.Context) error
	registry registry
	logger   *slog.Logger
	metrics  *Metrics
	sys      system

	signals       []os.Signal
	maxSignals    int
	shutdownGrace time.Duration

	state     workerState
	persisted int
	cycles    int
}

func newWorker(snap snapshot, payload Payload, cfg config) *worker {
	return &worker{
		snap:     snap,
		payload:  payload,
		finalize: cfg.finalize,
		registry: newRegistry(snap.PIDFile),
		logger:   cfg.logger.With(slog.String("daemon", snap.Name)),
		metrics:  cfg.metrics,
		sys:      cfg.sys,

		signals:       cfg.terminationSignals,
		maxSignals:    cfg.maxSignalCount,
		shutdownGrace: cfg.shutdownGrace,
	}
}

// run drives the tick loop until a termination request, a payload error under
// stop-on-error, a registry write failure, or the end of the single cycle. The
// finalizer and the registry removal always follow.
func (w *worker) run(ctx context.Context) error {
	sctx := stopper.WithContext(ctx)

	sigCh := make(chan os.Signal, 1)
	w.sys.SignalNotify(sigCh, w.signals...)
	loopDone := make(chan struct{})

	sctx.Go(func(sctx *stopper.Context) error {
		received := 0
		// keeps receiving after the first signal so that repeated ones can be counted
		for {
			select {
			case sig := <-sigCh:
				received++
				logSignal(ctx, w.logger, sig)
				if w.maxSignals > 0 && received >= w.maxSignals {
					w.logger.ErrorContext(ctx, "max number of signals received, terminating immediately")
					w.sys.OSExit(exitCodeImmediate)
				}
				sctx.Stop(defaultStopGrace)
			case <-loopDone:
				return nil
			}
		}
	})

	w.logger.InfoContext(ctx, "worker started",
		slog.Int("pid", w.sys.Getpid()),
		slog.Duration("tickPeriod", w.snap.TickPeriod),
		slog.String("pidFile", w.snap.PIDFile),
	)

	err := w.loop(ctx, sctx)
	close(loopDone)

	w.sys.SignalStop(sigCh)
	sctx.Stop(defaultStopGrace)
	_ = sctx.Wait()

	w.shutdown(ctx)
	return err
}

func (w *worker) loop(ctx context.Context, sctx *stopper.Context) error {
	w.state = workerRunning
	for w.state == workerRunning {
		cycleStart := time.Now()

		if err := w.persistPID(); err != nil {
			w.state = workerStopping
			w.logger.ErrorContext(ctx, "cannot record worker pid", slog.String("error", err.Error()))
			return err
		}

		if err := w.tick(ctx); err != nil {
			return err
		}

		if w.snap.OneCycleOnly {
			w.state = workerStopping
			break
		}

		remaining := w.snap.TickPeriod - time.Since(cycleStart)
		if remaining <= 0 {
			// overran the tick: no delay, no catch-up
			if sctx.IsStopping() || ctx.Err() != nil {
				w.state = workerStopping
			}
			continue
		}

		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-sctx.Stopping():
			timer.Stop()
			w.state = workerStopping
		case <-ctx.Done():
			timer.Stop()
			w.state = workerStopping
		}
	}
	return nil
}

func (w *worker) persistPID() error {
	pid := w.sys.Getpid()
	if pid == w.persisted {
		return nil
	}
	if err := w.registry.write(pid); err != nil {
		return &RegistryWriteError{Path: w.registry.path, PID: pid, Err: err}
	}
	w.metrics.observeRegistryWrite()
	w.persisted = pid
	return nil
}

// tick runs one payload invocation. It returns a non-nil error only when the
// error policy ends the loop.
func (w *worker) tick(ctx context.Context) error {
	w.cycles++
	start := time.Now()
	err := w.invoke(ctx)
	w.metrics.observeTick(time.Since(start), err)
	if err == nil {
		return nil
	}

	perr := &PayloadError{Tick: w.cycles, Err: err}
	logPayloadError(ctx, w.logger, perr, w.snap.StopOnError)
	if !w.snap.StopOnError {
		return nil
	}
	w.state = workerStopping
	return perr
}

func (w *worker) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.payload.Tick(ctx)
}

func (w *worker) shutdown(ctx context.Context) {
	if w.finalize != nil {
		// the loop may have ended because ctx was canceled
		fctx := context.WithoutCancel(ctx)
		if w.shutdownGrace > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, w.shutdownGrace)
			defer cancel()
		}
		if err := w.finalize(fctx); err != nil {
			w.logger.ErrorContext(ctx, "finalizer failed", slog.String("error", err.Error()))
		}
	}
	if err := w.registry.clear(); err != nil {
		w.logger.ErrorContext(ctx, "cannot remove pid file", slog.String("pidFile", w.registry.path), slog.String("error", err.Error()))
	}
	w.logger.InfoContext(ctx, "worker stopped", slog.Int("ticks", w.cycles))
}
