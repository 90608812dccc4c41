// Package app wires config, plans, the upstream client and the validators
// into fulfillment runs for the leadfill command.
package app

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Standard-Labs/real-intent/internal/bigdbm"
	"github.com/Standard-Labs/real-intent/internal/config"
	"github.com/Standard-Labs/real-intent/internal/leadcsv"
	"github.com/Standard-Labs/real-intent/internal/metrics"
	"github.com/Standard-Labs/real-intent/internal/plan"
	"github.com/Standard-Labs/real-intent/internal/redact"
	"github.com/Standard-Labs/real-intent/internal/validators"
	"github.com/Standard-Labs/real-intent/internal/worker"
	"github.com/Standard-Labs/real-intent/pkg/lead"
	"github.com/Standard-Labs/real-intent/pkg/lead/fill"
	"github.com/Standard-Labs/real-intent/pkg/lead/validate"
)

// Runner executes plans against the configured upstream. A nil Metrics
// disables metrics.
type Runner struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Recorder
	Registry *validators.Registry
	// HTTPClient is used by the contact checkers. Nil means a default client.
	HTTPClient *http.Client
}

// FulfillOptions are per-invocation overrides of a plan.
type FulfillOptions struct {
	// Target overrides the plan target when positive.
	Target int
	// OutputPath receives the CSV. Empty skips writing.
	OutputPath string
	// ExcludePaths are CSVs of earlier deliveries whose md5 column is never
	// delivered again.
	ExcludePaths []string
}

// Summary describes a finished fulfillment.
type Summary struct {
	RunID     string
	Target    int
	Delivered int
	Elapsed   time.Duration
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) observer() fill.Observer {
	if r.Metrics == nil {
		return fill.NopObserver{}
	}
	return r.Metrics
}

// Fulfill runs the plan at planPath and returns the delivered leads.
func (r *Runner) Fulfill(ctx context.Context, planPath string, opts FulfillOptions) ([]lead.Record, Summary, error) {
	runID := uuid.NewString()
	log := r.logger().With(zap.String("run_id", runID), zap.String("plan", planPath))
	start := time.Now()

	p, err := plan.Load(planPath)
	if err != nil {
		return nil, Summary{}, err
	}
	if opts.Target > 0 {
		p.Target = opts.Target
	}

	excluded, err := readExcluded(opts.ExcludePaths)
	if err != nil {
		return nil, Summary{}, err
	}
	if len(excluded) > 0 {
		p.Validators = append(p.Validators, plan.Validator{
			Name:     "key_blocklist",
			Required: true,
			Args:     validators.Args{"keys": excluded},
		})
		log.Info("excluding earlier deliveries", zap.Int("keys", len(excluded)))
	}

	engine, closeFn, err := r.engine(p, log)
	if err != nil {
		return nil, Summary{}, err
	}
	defer func() {
		if err := closeFn(); err != nil {
			log.Warn("close dependencies", zap.String("error", redact.Secrets(err.Error())))
		}
	}()

	log.Info("fulfillment start",
		zap.Int("target", p.Target),
		zap.Int("desired", engine.Desired(p.Target)),
		zap.Int("validators", len(p.Validators)),
	)
	leads, err := engine.Fulfill(ctx, lead.Request{Filters: p.Filters, Target: p.Target})
	if r.Metrics != nil {
		r.Metrics.Fulfilled(p.Target, len(leads), err)
	}
	if err != nil {
		return nil, Summary{}, errors.Wrap(err, "fulfill")
	}

	if opts.OutputPath != "" {
		if err := writeCSV(opts.OutputPath, leads); err != nil {
			return nil, Summary{}, err
		}
	}

	sum := Summary{RunID: runID, Target: p.Target, Delivered: len(leads), Elapsed: time.Since(start)}
	log.Info("fulfillment done",
		zap.Int("delivered", sum.Delivered),
		zap.String("output", opts.OutputPath),
		zap.Duration("elapsed", sum.Elapsed.Round(time.Millisecond)),
	)
	return leads, sum, nil
}

// Check reports intent availability for the plan's filters, capped at
// maxIdentifiers distinct identifiers.
func (r *Runner) Check(ctx context.Context, planPath string, maxIdentifiers int) (fill.Availability, error) {
	p, err := plan.Load(planPath)
	if err != nil {
		return fill.Availability{}, err
	}
	client, err := bigdbm.NewClient(r.Config.BigDBM.ClientConfig(r.logger()))
	if err != nil {
		return fill.Availability{}, err
	}
	engine, err := fill.New(client, client, validate.Policy{}, fill.Options{Logger: r.logger()})
	if err != nil {
		return fill.Availability{}, err
	}
	return engine.Check(ctx, p.Filters, maxIdentifiers)
}

// Process pulls up to desired identifiers for the plan's filters and runs
// every plan validator over them once, with no quota. The result is written
// to outputPath when set.
func (r *Runner) Process(ctx context.Context, planPath string, desired int, outputPath string) ([]lead.Record, error) {
	log := r.logger().With(zap.String("run_id", uuid.NewString()), zap.String("plan", planPath))

	p, err := plan.Load(planPath)
	if err != nil {
		return nil, err
	}
	engine, closeFn, err := r.engine(p, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = closeFn()
	}()

	leads, err := engine.Process(ctx, p.Filters, desired)
	if err != nil {
		return nil, errors.Wrap(err, "process")
	}
	if outputPath != "" {
		if err := writeCSV(outputPath, leads); err != nil {
			return nil, err
		}
	}
	log.Info("process done", zap.Int("desired", desired), zap.Int("delivered", len(leads)))
	return leads, nil
}

// engine builds the fill engine for p. The returned func releases the
// suppression list connection.
func (r *Runner) engine(p *plan.Plan, log *zap.Logger) (*fill.Engine, func() error, error) {
	noop := func() error { return nil }

	client, err := bigdbm.NewClient(r.Config.BigDBM.ClientConfig(log))
	if err != nil {
		return nil, noop, err
	}

	deps, closeFn, err := r.deps(log)
	if err != nil {
		return nil, noop, err
	}
	reg := r.Registry
	if reg == nil {
		reg = validators.NewRegistry()
	}
	policy, err := p.Policy(reg, deps)
	if err != nil {
		_ = closeFn()
		return nil, noop, err
	}

	multiplier := r.Config.Fill.Multiplier
	if p.Multiplier != 0 {
		multiplier = p.Multiplier
	}
	engine, err := fill.New(client, client, policy, fill.Options{
		Multiplier: multiplier,
		Logger:     log,
		Observer:   r.observer(),
	})
	if err != nil {
		_ = closeFn()
		return nil, noop, err
	}
	return engine, closeFn, nil
}

// deps builds the checkers and suppression list that are configured. Unset
// keys leave the matching dependency nil; plans that name those validators
// then fail to build.
func (r *Runner) deps(log *zap.Logger) (validators.Deps, func() error, error) {
	checks := r.Config.Checks
	d := validators.Deps{
		EmailChecks: r.checkOptions(checks, "millionverifier", log),
		PhoneChecks: r.checkOptions(checks, "numverify", log),
	}
	if checks.MillionVerifierAPIKey != "" {
		d.Emails = &validators.MillionVerifier{BaseURL: checks.MillionVerifierURL, APIKey: checks.MillionVerifierAPIKey, HTTP: r.HTTPClient}
	}
	if checks.NumverifyAPIKey != "" {
		d.Phones = &validators.Numverify{BaseURL: checks.NumverifyURL, APIKey: checks.NumverifyAPIKey, HTTP: r.HTTPClient}
	}

	rc, err := r.Config.Redis.Client()
	if err != nil {
		return validators.Deps{}, nil, err
	}
	if rc == nil {
		return d, func() error { return nil }, nil
	}
	d.Suppression = validators.NewRedisSuppressionList(rc, r.Config.Redis.SuppressionKey)
	return d, rc.Close, nil
}

func (r *Runner) checkOptions(checks config.ChecksConfig, name string, log *zap.Logger) worker.Options {
	opts := checks.WorkerOptions()
	opts.OnRetry = func(attempt int, err error, sleep time.Duration) {
		if r.Metrics != nil {
			r.Metrics.CheckerRetry(name)
		}
		log.Warn("retrying contact check",
			zap.String("checker", name),
			zap.Int("attempt", attempt),
			zap.Duration("sleep", sleep),
			zap.String("error", redact.Secrets(err.Error())),
		)
	}
	return opts
}

func readExcluded(paths []string) ([]string, error) {
	var keys []string
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open exclude file")
		}
		k, err := leadcsv.ReadKeys(f)
		_ = f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "read exclude file %s", path)
		}
		keys = append(keys, k...)
	}
	return keys, nil
}

func writeCSV(path string, leads []lead.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	defer func() {
		_ = f.Close()
	}()
	if err := leadcsv.Write(f, leads); err != nil {
		return err
	}
	return errors.Wrap(f.Close(), "close output")
}
