package conform

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/streamcheck/conform/emit"
	"github.com/dshills/streamcheck/conform/store"
)

// Option is a functional option for configuring a Driver or NegativeDriver.
//
// Example:
//
//	driver, err := conform.NewDriver(cursor, ch, rx, conform.Output,
//	    conform.WithRunID("write-1"),
//	    conform.WithEmitter(emit.NewLogEmitter(logger)),
//	    conform.WithPositionResetOn(conform.TagFlush),
//	)
type Option func(*driverConfig) error

// driverConfig collects options before they are applied to a driver.
type driverConfig struct {
	runID          string
	scenario       string
	emitter        emit.Emitter
	store          store.Store
	metrics        *PrometheusMetrics
	logger         zerolog.Logger
	shaveFrames    int
	resetOn        map[CommandTag]bool
	commandTimeout time.Duration
}

func defaultDriverConfig() driverConfig {
	return driverConfig{
		runID:       "run",
		emitter:     emit.NewNullEmitter(),
		logger:      zerolog.Nop(),
		shaveFrames: 1,
		resetOn:     make(map[CommandTag]bool),
	}
}

func applyOptions(opts []Option) (driverConfig, error) {
	cfg := defaultDriverConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return driverConfig{}, err
		}
	}
	return cfg, nil
}

// WithRunID names the run in events, metrics, logs and stored traces.
func WithRunID(id string) Option {
	return func(cfg *driverConfig) error {
		if id == "" {
			return errors.New("run id cannot be empty")
		}
		cfg.runID = id
		return nil
	}
}

// WithScenario labels metrics and verdicts with the scenario name.
func WithScenario(name string) Option {
	return func(cfg *driverConfig) error {
		cfg.scenario = name
		return nil
	}
}

// WithEmitter sets the event emitter. Default: emit.NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *driverConfig) error {
		if e == nil {
			e = emit.NewNullEmitter()
		}
		cfg.emitter = e
		return nil
	}
}

// WithStore records every iteration as a store.TransitionRecord.
func WithStore(st store.Store) Option {
	return func(cfg *driverConfig) error {
		cfg.store = st
		return nil
	}
}

// WithMetrics records cycles, violations and latencies in m.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *driverConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithLogger sets the logger. Default: zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *driverConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithBurstShaveFrames sets how many frames an auto-sized burst leaves free
// in the data queue. Leaving room checks that the session transfers what it
// was given instead of assuming a full queue. Default: 1.
func WithBurstShaveFrames(n int) Option {
	return func(cfg *driverConfig) error {
		if n < 0 {
			return errors.New("burst shave frames cannot be negative")
		}
		cfg.shaveFrames = n
		return nil
	}
}

// WithPositionResetOn lists the commands after which the observable position
// may drop back to zero without counting as a retrograde move, e.g. flush
// discarding buffered data.
func WithPositionResetOn(tags ...CommandTag) Option {
	return func(cfg *driverConfig) error {
		for _, t := range tags {
			cfg.resetOn[t] = true
		}
		return nil
	}
}

// WithCommandTimeout bounds each command/reply exchange. Zero (the default)
// leaves exchanges bounded only by the run context.
func WithCommandTimeout(d time.Duration) Option {
	return func(cfg *driverConfig) error {
		if d < 0 {
			return errors.New("command timeout cannot be negative")
		}
		cfg.commandTimeout = d
		return nil
	}
}
