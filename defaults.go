package forkdaemon

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"time"
)

const (
	defaultTickUnit             = time.Microsecond
	defaultKillWait             = 7 * time.Second
	defaultStopOnError          = true
	defaultRegistryWaitInterval = 10 * time.Millisecond
	defaultRegistryWaitAttempts = 10
	defaultKillPollInterval     = 100 * time.Millisecond
	defaultWatchPollInterval    = 250 * time.Millisecond
	defaultWatchDebounce        = 10 * time.Millisecond
	defaultStopGrace            = 100 * time.Millisecond
	reaperPollInterval          = 5 * time.Millisecond

	registryPerm = 0o644
	logFilePerm  = 0o640

	exitCodeClean     = 0
	exitCodeError     = 1
	exitCodeImmediate = 2
)

func logSignal(ctx context.Context, logger *slog.Logger, sig os.Signal) {
	signal := slog.String("signal", sig.String())
	signalCode := slog.Attr{}
	if sigInt, ok := sig.(syscall.Signal); ok {
		signalCode = slog.Int("signalCode", int(sigInt))
	}

	logger.InfoContext(ctx, "termination signal received", signal, signalCode)
}

func logPayloadError(ctx context.Context, logger *slog.Logger, err *PayloadError, stopping bool) {
	logger.ErrorContext(ctx, "payload failed",
		slog.Int("tick", err.Tick),
		slog.String("error", err.Err.Error()),
		slog.Bool("stopping", stopping),
	)
}
