package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/streamcheck/conform"
	"github.com/dshills/streamcheck/conform/emit"
	"github.com/dshills/streamcheck/conform/store"
)

// Result is the outcome of one scenario run.
type Result struct {
	Scenario    string
	RunID       string
	Descriptor  conform.Descriptor
	Outcome     conform.Outcome
	Verdict     conform.Verdict
	Mismatches  []string
	WorkerError string

	// Retried is set when the session rejected the requested configuration
	// and the run used the one it suggested.
	Retried bool

	// Err is set when the run could not take place (open failed).
	Err error

	expectProgress bool
}

// Passed reports whether the run took place and found nothing wrong.
func (r Result) Passed() bool {
	if r.Err != nil || r.WorkerError != "" || len(r.Mismatches) > 0 {
		return false
	}
	if r.Verdict.UnexpectedTransition != "" || r.Verdict.PositionRetrograde {
		return false
	}
	if r.expectProgress && !r.Descriptor.PassThrough && !r.Verdict.PositionIncreased {
		return false
	}
	return r.Outcome == conform.Exit
}

// Failure describes why the run did not pass, or returns "".
func (r Result) Failure() string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.WorkerError != "":
		return r.WorkerError
	case r.Verdict.UnexpectedTransition != "":
		return r.Verdict.UnexpectedTransition
	case len(r.Mismatches) > 0:
		return r.Mismatches[0]
	case r.Verdict.PositionRetrograde:
		return "observable position went backwards"
	case r.expectProgress && !r.Descriptor.PassThrough && !r.Verdict.PositionIncreased:
		return "observable position never increased"
	case r.Outcome != conform.Exit:
		return "run did not complete"
	}
	return ""
}

// Suite runs scenarios against sessions from an Opener.
type Suite struct {
	opener    Opener
	cfg       Config
	scenarios []Scenario
	store     store.Store
	emitter   emit.Emitter
	metrics   *conform.PrometheusMetrics
	logger    zerolog.Logger
	runPrefix string
}

// SuiteOption configures a Suite.
type SuiteOption func(*Suite)

// WithScenarios replaces the built-in catalogue.
func WithScenarios(s ...Scenario) SuiteOption {
	return func(su *Suite) { su.scenarios = s }
}

// WithResultStore persists traces and verdicts.
func WithResultStore(st store.Store) SuiteOption {
	return func(su *Suite) { su.store = st }
}

// WithSuiteEmitter forwards driver events.
func WithSuiteEmitter(e emit.Emitter) SuiteOption {
	return func(su *Suite) { su.emitter = e }
}

// WithSuiteMetrics records driver and worker metrics.
func WithSuiteMetrics(m *conform.PrometheusMetrics) SuiteOption {
	return func(su *Suite) { su.metrics = m }
}

// WithSuiteLogger sets the logger. Default: zerolog.Nop().
func WithSuiteLogger(l zerolog.Logger) SuiteOption {
	return func(su *Suite) { su.logger = l }
}

// WithRunPrefix sets the prefix of run ids ("<prefix>/<scenario>").
// Default: the suite start time.
func WithRunPrefix(p string) SuiteOption {
	return func(su *Suite) { su.runPrefix = p }
}

// NewSuite creates a suite over the built-in catalogue.
func NewSuite(opener Opener, cfg Config, opts ...SuiteOption) *Suite {
	s := &Suite{
		opener:    opener,
		cfg:       cfg,
		scenarios: Catalogue(),
		emitter:   emit.NewNullEmitter(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "suite").Logger()
	return s
}

// Run executes every selected scenario that applies to the configured
// stream. Up to Config.Parallelism scenarios run at once, each with its own
// session, receiver, driver and worker. Scenario failures are reported in
// the results; Run itself fails only when the context ends.
func (s *Suite) Run(ctx context.Context) ([]Result, error) {
	if s.opener == nil {
		return nil, errors.New("suite needs an opener")
	}
	desc := s.cfg.Descriptor()
	var selected []Scenario
	for _, sc := range Select(s.scenarios, s.cfg.Scenarios) {
		if sc.AppliesTo(desc) {
			selected = append(selected, sc)
		}
	}
	prefix := s.runPrefix
	if prefix == "" {
		prefix = time.Now().UTC().Format("20060102T150405")
	}

	results := make([]Result, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.Parallelism, 1))
	for i, sc := range selected {
		g.Go(func() error {
			results[i] = s.runOne(gctx, sc, prefix+"/"+sc.Name, desc)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	passed := 0
	for _, r := range results {
		if r.Passed() {
			passed++
		}
	}
	s.logger.Info().Int("scenarios", len(results)).Int("passed", passed).Msg("suite finished")
	return results, nil
}

func (s *Suite) runOne(ctx context.Context, sc Scenario, runID string, desc conform.Descriptor) Result {
	res := Result{Scenario: sc.Name, RunID: runID, Descriptor: desc, expectProgress: sc.ExpectProgress}
	log := s.logger.With().Str("scenario", sc.Name).Str("run_id", runID).Logger()

	rx := conform.NewReceiver(conform.WithWaitTimeout(s.cfg.NotifyTimeout))
	sess, retried, err := s.open(ctx, desc, rx)
	if err != nil {
		log.Warn().Err(err).Msg("session did not open")
		return s.failed(ctx, res, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn().Err(err).Msg("session close failed")
		}
	}()
	res.Retried = retried
	res.Descriptor = sess.Descriptor()

	opts := []conform.Option{
		conform.WithRunID(runID),
		conform.WithScenario(sc.Name),
		conform.WithEmitter(s.emitter),
		conform.WithStore(s.store),
		conform.WithMetrics(s.metrics),
		conform.WithLogger(log),
		conform.WithPositionResetOn(sc.ResetOn...),
		conform.WithCommandTimeout(s.cfg.CommandTimeout),
	}

	var (
		logic    conform.Logic
		driver   *conform.Driver
		negative *conform.NegativeDriver
	)
	if sc.Negative != nil {
		negative, err = conform.NewNegativeDriver(sess.Channel(), sc.Negative.Steps, sc.Negative.Final, opts...)
		logic = negative
	} else {
		cursor := conform.NewCursor(sc.Build(res.Descriptor))
		driver, err = conform.NewDriver(cursor, sess.Channel(), rx, res.Descriptor.Direction, opts...)
		logic = driver
	}
	if err != nil {
		return s.failed(ctx, res, fmt.Errorf("scenario %s: %w", sc.Name, err))
	}

	worker := conform.NewWorker(logic,
		conform.WithWorkerName(runID),
		conform.WithWorkerLogger(log),
		conform.WithWorkerMetrics(s.metrics),
	)
	if !worker.Start(ctx) {
		return s.failed(ctx, res, errors.New("worker did not start"))
	}
	worker.Join()

	res.Outcome = worker.Outcome()
	res.WorkerError = worker.Error()
	if driver != nil {
		res.Verdict = driver.Verdict()
	}
	if negative != nil {
		res.Mismatches = negative.Mismatches()
	}
	if res.Passed() {
		log.Info().Msg("scenario passed")
	} else {
		log.Warn().Str("failure", res.Failure()).Msg("scenario failed")
	}
	s.saveVerdict(ctx, res)
	return res
}

// open applies the open order and, when enabled, retries once with the
// configuration the session suggested.
func (s *Suite) open(ctx context.Context, desc conform.Descriptor, rx *conform.Receiver) (Session, bool, error) {
	sess, err := s.openOnce(ctx, desc, rx)
	if err == nil {
		return sess, false, nil
	}
	var sug Suggestion
	if !s.cfg.RetrySuggested || !errors.As(err, &sug) {
		return nil, false, err
	}
	next := sug.SuggestedDescriptor()
	s.logger.Info().
		Int("requested_frames", desc.BufferFrames).
		Int("suggested_frames", next.BufferFrames).
		Msg("retrying with suggested configuration")
	sess, err = s.openOnce(ctx, next, rx)
	if err != nil {
		return nil, false, fmt.Errorf("retry with suggested configuration: %w", err)
	}
	return sess, true, nil
}

func (s *Suite) openOnce(ctx context.Context, desc conform.Descriptor, rx *conform.Receiver) (Session, error) {
	if s.cfg.OpenOrder != OpenThenSetup {
		return s.opener.Open(ctx, desc, rx)
	}
	r := &relay{}
	sess, err := s.opener.Open(ctx, desc, r)
	if err != nil {
		return nil, err
	}
	r.bind(rx)
	return sess, nil
}

// failed records a run that ended before its driver loop could finish.
func (s *Suite) failed(ctx context.Context, res Result, err error) Result {
	res.Err = err
	s.saveVerdict(ctx, res)
	return res
}

func (s *Suite) saveVerdict(ctx context.Context, r Result) {
	if s.store == nil {
		return
	}
	rec := store.VerdictRecord{
		RunID:                r.RunID,
		Scenario:             r.Scenario,
		Outcome:              r.Outcome.String(),
		UnexpectedTransition: r.Verdict.UnexpectedTransition,
		PositionIncreased:    r.Verdict.PositionIncreased,
		PositionRetrograde:   r.Verdict.PositionRetrograde,
		WorkerError:          r.WorkerError,
		Mismatches:           r.Mismatches,
		Steps:                r.Verdict.Steps,
		CreatedAt:            time.Now().UTC(),
	}
	if r.Err != nil {
		rec.WorkerError = r.Err.Error()
	}
	if err := s.store.SaveVerdict(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("run_id", r.RunID).Msg("failed to save verdict")
	}
}

// OpenStore opens the store described by cfg.
func OpenStore(cfg StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemStore(), nil
	case "sqlite":
		st, err := store.NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "mysql":
		st, err := store.NewMySQLStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
