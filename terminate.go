package forkdaemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Stop asks the worker to terminate and waits, bounded by the kill-wait budget, for
// it to exit. It is a no-op when the worker is not running. A worker that outlives the
// budget is left running and a *TerminationTimeoutError is returned.
func (d *Daemon) Stop(ctx context.Context) error {
	pid, err := d.PID(true)
	if err != nil {
		return err
	}
	if pid == 0 {
		return nil
	}
	return d.terminate(ctx, pid)
}

func (d *Daemon) terminate(ctx context.Context, pid int) error {
	if err := d.cfg.sys.Terminate(pid); err != nil {
		return fmt.Errorf("forkdaemon: signal worker %d: %w", pid, err)
	}

	started := time.Now()
	ticker := time.NewTicker(d.cfg.killPollInterval)
	defer ticker.Stop()

	for d.alive(pid) {
		if waited := time.Since(started); waited >= d.snap.KillWait {
			d.cfg.logger.WarnContext(ctx, "worker did not stop in time", slog.Int("pid", pid), slog.Duration("waited", waited))
			return &TerminationTimeoutError{PID: pid, Wait: d.snap.KillWait}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	d.cfg.logger.InfoContext(ctx, "worker stopped", slog.Int("pid", pid), slog.Duration("waited", time.Since(started)))
	return nil
}
