package forkdaemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

// Keys looked up in a ConfigSource.
const (
	KeyPIDFile     = "pid-file"
	KeyTickPeriod  = "tick-period"
	KeyKillWait    = "kill-wait"
	KeyStopOnError = "stop-on-error"
)

// ConfigSource provides tunables by key. Lookup reports false when the key is absent,
// in which case the documented default applies.
type ConfigSource interface {
	Lookup(key string) (any, bool)
}

// MapSource is a ConfigSource backed by a plain map.
type MapSource map[string]any

func (m MapSource) Lookup(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

type config struct {
	name   string
	source ConfigSource

	pidFile     *string
	tickPeriod  *time.Duration
	tickUnit    time.Duration
	killWait    *time.Duration
	stopOnError *bool

	oneCycleOnly bool

	registryWaitInterval time.Duration
	registryWaitAttempts int
	killPollInterval     time.Duration
	watchPollInterval    time.Duration

	terminationSignals []os.Signal
	maxSignalCount     int
	shutdownGrace      time.Duration

	logger    *slog.Logger
	logFile   string
	env       []string
	afterFork func(background bool)
	finalize  func(context.Context) error
	metrics   *Metrics
	sys       system
}

// snapshot is the configuration the controller and the worker are both built
// from. It crosses the fork through the environment.
type snapshot struct {
	Name         string        `json:"name"`
	PIDFile      string        `json:"pid_file"`
	TickPeriod   time.Duration `json:"tick_period"`
	KillWait     time.Duration `json:"kill_wait"`
	StopOnError  bool          `json:"stop_on_error"`
	OneCycleOnly bool          `json:"one_cycle_only"`
}

func defaultConfig() config {
	return config{
		name:                 defaultName(),
		source:               MapSource{},
		tickUnit:             defaultTickUnit,
		registryWaitInterval: defaultRegistryWaitInterval,
		registryWaitAttempts: defaultRegistryWaitAttempts,
		killPollInterval:     defaultKillPollInterval,
		watchPollInterval:    defaultWatchPollInterval,
		terminationSignals:   defaultTerminationSignals,
		logger:               slog.New(slog.DiscardHandler),
		sys:                  std{},
	}
}

func (c *config) resolve() (snapshot, error) {
	s := snapshot{
		Name:         c.name,
		OneCycleOnly: c.oneCycleOnly,
	}

	switch {
	case c.pidFile != nil:
		s.PIDFile = *c.pidFile
	default:
		v, ok := c.source.Lookup(KeyPIDFile)
		if !ok {
			s.PIDFile = defaultPIDFile(c.name)
			break
		}
		p, err := cast.ToStringE(v)
		if err != nil {
			return snapshot{}, fmt.Errorf("forkdaemon: config %q: %w", KeyPIDFile, err)
		}
		s.PIDFile = p
	}
	if strings.TrimSpace(s.PIDFile) == "" {
		s.PIDFile = defaultPIDFile(c.name)
	}
	abs, err := filepath.Abs(s.PIDFile)
	if err != nil {
		return snapshot{}, fmt.Errorf("forkdaemon: resolve pid file: %w", err)
	}
	s.PIDFile = abs

	switch {
	case c.tickPeriod != nil:
		s.TickPeriod = *c.tickPeriod
	default:
		// one second expressed in the configured unit
		s.TickPeriod = time.Second
		if v, ok := c.source.Lookup(KeyTickPeriod); ok {
			n, err := cast.ToInt64E(v)
			if err != nil {
				return snapshot{}, fmt.Errorf("forkdaemon: config %q: %w", KeyTickPeriod, err)
			}
			s.TickPeriod = time.Duration(n) * c.tickUnit
		}
	}
	if s.TickPeriod < 0 {
		return snapshot{}, fmt.Errorf("forkdaemon: config %q: negative tick period %s", KeyTickPeriod, s.TickPeriod)
	}

	switch {
	case c.killWait != nil:
		s.KillWait = *c.killWait
	default:
		s.KillWait = defaultKillWait
		if v, ok := c.source.Lookup(KeyKillWait); ok {
			n, err := cast.ToInt64E(v)
			if err != nil {
				return snapshot{}, fmt.Errorf("forkdaemon: config %q: %w", KeyKillWait, err)
			}
			s.KillWait = time.Duration(n) * time.Second
		}
	}

	switch {
	case c.stopOnError != nil:
		s.StopOnError = *c.stopOnError
	default:
		s.StopOnError = defaultStopOnError
		if v, ok := c.source.Lookup(KeyStopOnError); ok {
			b, err := cast.ToBoolE(v)
			if err != nil {
				return snapshot{}, fmt.Errorf("forkdaemon: config %q: %w", KeyStopOnError, err)
			}
			s.StopOnError = b
		}
	}

	return s, nil
}

func defaultName() string {
	name := filepath.Base(os.Args[0])
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "daemon"
	}
	return sanitizeName(name)
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

func defaultPIDFile(name string) string {
	base := fmt.Sprintf("forkdaemon-pid-%s-%s-%s", sanitizeName(name), time.Now().Format("2006-01-02-15-04-05"), uuid.NewString())
	return filepath.Join(os.TempDir(), base)
}

// Option configures a Daemon.
type Option func(*config)

// WithName sets the daemon name. The name ties a reborn worker process to the Daemon
// that launched it and appears in the default pid file name.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithConfigSource sets the provider the pid-file, tick-period, kill-wait and
// stop-on-error tunables are read from.
func WithConfigSource(src ConfigSource) Option {
	return func(c *config) {
		if src != nil {
			c.source = src
		}
	}
}

// WithTickUnit sets the unit the tick-period config value is expressed in.
// Defaults to time.Microsecond.
func WithTickUnit(unit time.Duration) Option {
	return func(c *config) {
		if unit > 0 {
			c.tickUnit = unit
		}
	}
}

// WithPIDFile sets the registry path, overriding the config source.
func WithPIDFile(path string) Option {
	return func(c *config) {
		c.pidFile = &path
	}
}

// WithTickPeriod sets the period between payload invocations, overriding the config source.
func WithTickPeriod(d time.Duration) Option {
	return func(c *config) {
		c.tickPeriod = &d
	}
}

// WithKillWait sets how long Stop waits for the worker to exit, overriding the config source.
func WithKillWait(d time.Duration) Option {
	return func(c *config) {
		c.killWait = &d
	}
}

// WithStopOnError sets whether a payload error ends the worker loop, overriding the config source.
func WithStopOnError(stop bool) Option {
	return func(c *config) {
		c.stopOnError = &stop
	}
}

// WithOneCycleOnly makes the worker run exactly one tick and exit.
func WithOneCycleOnly() Option {
	return func(c *config) {
		c.oneCycleOnly = true
	}
}

// WithRegistryWait sets how the controller polls for the first pid write of a
// worker it just launched.
func WithRegistryWait(interval time.Duration, attempts int) Option {
	return func(c *config) {
		c.registryWaitInterval = interval
		c.registryWaitAttempts = attempts
	}
}

// WithKillPollInterval sets the liveness polling quantum used by Stop.
func WithKillPollInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.killPollInterval = d
		}
	}
}

// WithWatchPollInterval sets the fallback polling period of Watch.
func WithWatchPollInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.watchPollInterval = d
		}
	}
}

// WithTerminationSignals sets the signals the worker treats as a stop request.
// Stop always sends SIGTERM, so it should stay in the list.
func WithTerminationSignals(signals ...os.Signal) Option {
	return func(c *config) {
		if len(signals) > 0 {
			c.terminationSignals = signals
		}
	}
}

// WithMaxSignalCount makes the worker exit immediately, with exit code 2 and without
// running the finalizer, once it has received that many termination signals.
// Zero (the default) disables it.
func WithMaxSignalCount(n int) Option {
	return func(c *config) {
		c.maxSignalCount = n
	}
}

// WithShutdownGraceDuration bounds the context handed to the finalizer.
// Zero (the default) means no deadline.
func WithShutdownGraceDuration(d time.Duration) Option {
	return func(c *config) {
		c.shutdownGrace = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLogFile redirects the worker's stdout and stderr to the given file.
// By default both go to /dev/null.
func WithLogFile(path string) Option {
	return func(c *config) {
		c.logFile = path
	}
}

// WithEnv appends KEY=VALUE pairs to the worker's environment.
func WithEnv(kv ...string) Option {
	return func(c *config) {
		c.env = append(c.env, kv...)
	}
}

// WithAfterFork registers a hook run in both processes right after the fork,
// e.g. to reset connections the worker must not share with the controller.
func WithAfterFork(f func(background bool)) Option {
	return func(c *config) {
		c.afterFork = f
	}
}

// WithFinalizer registers the hook the worker runs exactly once after its loop ends
// and before the registry is removed.
func WithFinalizer(f func(context.Context) error) Option {
	return func(c *config) {
		c.finalize = f
	}
}

// WithMetrics attaches worker metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}
