// Package forkdaemon turns a unit of work into a detached background process and
// controls it from any other process.
//
// A Daemon is built around a Payload, which the worker invokes once per tick:
//
//	func main() {
//		d, err := forkdaemon.New(
//			forkdaemon.PayloadFunc(func(ctx context.Context) error { return poll(ctx) }),
//			forkdaemon.WithName("poller"),
//			forkdaemon.WithPIDFile("/run/poller.pid"),
//			forkdaemon.WithTickPeriod(5*time.Second),
//			forkdaemon.WithFinalizer(flush),
//		)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		pid, err := d.Start(context.Background()) // never returns in the worker
//		...
//	}
//
// Start re-executes the current binary in a new session; the reborn process reaches
// the same Start call and runs the tick loop instead of returning. Programs must
// therefore build the Daemon the same way on every run and call Start before doing
// anything the worker must not do.
//
// Worker:
// Each tick the worker records its pid in the pid file (when it differs from the one
// recorded), runs the payload and sleeps for the rest of the tick period. A payload
// that overruns the period is followed immediately by the next tick. A payload error
// ends the loop when stop-on-error is set (the default) and is only logged otherwise.
// SIGTERM (and the other termination signals, see WithTerminationSignals) ends the loop
// after the in-flight payload returns. WithMaxSignalCount turns repeated signals into an
// immediate exit. On the way out the worker runs the finalizer and removes the pid file.
//
// Controller:
// PID, IsRunning, HasFinished and Status read the pid file and probe the recorded
// process with signal 0; a pid file naming a dead process is removed. Stop sends
// SIGTERM and waits for the process to vanish for the kill-wait budget. Watch and
// Wait follow the pid file with fsnotify.
//
// Configuration:
// pid-file, tick-period, kill-wait and stop-on-error are read from a ConfigSource
// (MapSource, ViperSource) unless set explicitly with the matching option.
//
// Limitations:
// Nothing protects against several controllers starting or stopping the same daemon
// at the same moment. Only unix platforms are supported.
package forkdaemon
