// Package fill implements the lead-fulfillment engine: a quota-fill loop
// that draws identifiers from a bank in deficit-sized batches, and a tiered
// fallback controller that relaxes validation one tier at a time until the
// target is met or the identifier supply runs out.
package fill

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Standard-Labs/real-intent/pkg/lead"
	"github.com/Standard-Labs/real-intent/pkg/lead/bank"
	"github.com/Standard-Labs/real-intent/pkg/lead/validate"
)

// DefaultMultiplier oversizes the upstream pull relative to the target.
const DefaultMultiplier = 2.5

var (
	ErrInvalidTarget     = errors.New("target must be >= 0")
	ErrInvalidMultiplier = errors.New("multiplier must be > 1")
	ErrNilCollaborator   = errors.New("intent source and enricher are required")
)

type Options struct {
	// Multiplier scales the upstream pull: desired = floor(target * Multiplier).
	// Zero selects DefaultMultiplier.
	Multiplier float64

	Logger   *zap.Logger
	Observer Observer
	NewBank  BankFactory
}

func (o Options) withDefaults() Options {
	if o.Multiplier == 0 {
		o.Multiplier = DefaultMultiplier
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.NewBank == nil {
		o.NewBank = DefaultBankFactory
	}
	return o
}

// Engine fulfills lead requests. It keeps no per-request state, so one
// Engine may serve concurrent requests as long as its collaborators can.
type Engine struct {
	source   IntentSource
	enricher Enricher
	policy   validate.Policy
	opts     Options
}

// New validates its inputs and returns an engine bound to policy.
func New(source IntentSource, enricher Enricher, policy validate.Policy, opts Options) (*Engine, error) {
	if source == nil || enricher == nil {
		return nil, ErrNilCollaborator
	}
	opts = opts.withDefaults()
	if !(opts.Multiplier > 1) {
		return nil, errors.Wrapf(ErrInvalidMultiplier, "got %g", opts.Multiplier)
	}
	return &Engine{
		source:   source,
		enricher: enricher,
		policy:   policy,
		opts:     opts,
	}, nil
}

// Policy returns the validator policy the engine runs with.
func (e *Engine) Policy() validate.Policy {
	return e.policy
}

// Desired is the number of identifiers requested upstream for target.
func (e *Engine) Desired(target int) int {
	return int(float64(target) * e.opts.Multiplier)
}

// Fulfill returns up to req.Target validated records with distinct keys.
//
// Validation starts at the strictest configuration (every fallback
// validator active) and drops the highest remaining registered tier after
// each pass that leaves a deficit. Tier numbers with no validator are
// skipped. Tier 1 fallback validators and required validators always run. Each later tier re-draws every candidate not yet
// accepted; records enriched on an earlier tier are reused without another
// enrichment call, and identifiers the enricher could not resolve are not
// retried.
//
// A short result is not an error: the caller gets everything found.
// Upstream, enrichment and validator errors abort the request.
func (e *Engine) Fulfill(ctx context.Context, req lead.Request) ([]lead.Record, error) {
	if req.Target < 0 {
		return nil, errors.Wrapf(ErrInvalidTarget, "got %d", req.Target)
	}
	if req.Target == 0 {
		return []lead.Record{}, nil
	}
	if err := req.Filters.Validate(); err != nil {
		return nil, err
	}

	r := e.newRun(req.Target)
	candidates, err := e.pull(ctx, r.log, req.Filters, e.Desired(req.Target))
	if err != nil {
		return nil, err
	}

	for _, tier := range e.passes() {
		if r.done() {
			break
		}
		if err := r.pass(ctx, tier, candidates); err != nil {
			return nil, err
		}
	}

	if !r.done() {
		r.log.Warn("identifier supply exhausted before target",
			zap.Int("accepted", len(r.accepted)),
			zap.Int("candidates", len(candidates)),
		)
	} else {
		r.log.Info("target met", zap.Int("accepted", len(r.accepted)))
	}
	return r.accepted, nil
}

// passes lists the tiers the controller runs, strictest first: each
// registered fallback tier, then tier 1 (required validators plus any tier
// 1 fallbacks) when no fallback sits at tier 1. A policy without fallbacks
// gets a single tier 0 pass.
func (e *Engine) passes() []validate.Tier {
	tiers := e.policy.Tiers()
	if len(tiers) == 0 {
		return []validate.Tier{0}
	}
	if tiers[len(tiers)-1] != 1 {
		tiers = append(tiers, 1)
	}
	return tiers
}

// Availability summarizes an intent job without enriching it.
type Availability struct {
	Total  int `json:"total"`
	Unique int `json:"unique"`
}

// Check runs an intent job for up to maxIdentifiers and reports the raw
// event count and the number of distinct identifiers. Availability is
// capped by maxIdentifiers.
func (e *Engine) Check(ctx context.Context, filters lead.Filters, maxIdentifiers int) (Availability, error) {
	if maxIdentifiers < 1 {
		return Availability{}, errors.Wrapf(ErrInvalidTarget, "max identifiers %d", maxIdentifiers)
	}
	if err := filters.Validate(); err != nil {
		return Availability{}, err
	}
	log := e.opts.Logger.With(zap.String("run_id", uuid.NewString()))
	events, err := e.pull(ctx, log, filters, maxIdentifiers)
	if err != nil {
		return Availability{}, err
	}
	a := Availability{Total: len(events), Unique: bank.New(events).Len()}
	log.Info("checked availability", zap.Int("total", a.Total), zap.Int("unique", a.Unique))
	return a, nil
}

// Process pulls up to desired identifiers, enriches all of them in one call
// and applies every registered validator once. There is no quota and no
// fallback.
func (e *Engine) Process(ctx context.Context, filters lead.Filters, desired int) ([]lead.Record, error) {
	if desired < 1 {
		return nil, errors.Wrapf(ErrInvalidTarget, "desired %d", desired)
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	r := e.newRun(desired)
	events, err := e.pull(ctx, r.log, filters, desired)
	if err != nil {
		return nil, err
	}
	b := bank.New(events)
	records, err := r.enrich(ctx, b.Take(b.Len()))
	if err != nil {
		return nil, err
	}
	return validate.Run(ctx, e.policy.All(), records, r.hook)
}

func (e *Engine) pull(ctx context.Context, log *zap.Logger, filters lead.Filters, desired int) ([]lead.Candidate, error) {
	id, err := e.source.Submit(ctx, filters, desired)
	if err != nil {
		return nil, errors.Wrap(err, "submit intent job")
	}
	log = log.With(zap.String("job_id", string(id)))
	log.Debug("intent job submitted", zap.Int("desired", desired))

	if err := e.source.Await(ctx, id); err != nil {
		return nil, errors.Wrapf(err, "await intent job %s", id)
	}
	events, err := e.source.Fetch(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch intent job %s", id)
	}
	log.Info("intent job fetched", zap.Int("events", len(events)))
	return events, nil
}

// run holds the state of one request.
type run struct {
	engine *Engine
	log    *zap.Logger
	target int
	tier   validate.Tier

	accepted     []lead.Record
	acceptedKeys map[string]struct{}
	// enriched holds every record the enricher resolved, keyed by identifier.
	enriched map[string]lead.Record
	// unresolved holds identifiers the enricher returned nothing for.
	unresolved map[string]struct{}
}

func (e *Engine) newRun(target int) *run {
	return &run{
		engine: e,
		log: e.opts.Logger.With(
			zap.String("run_id", uuid.NewString()),
			zap.Int("target", target),
		),
		target:       target,
		accepted:     []lead.Record{},
		acceptedKeys: map[string]struct{}{},
		enriched:     map[string]lead.Record{},
		unresolved:   map[string]struct{}{},
	}
}

func (r *run) done() bool {
	return len(r.accepted) >= r.target
}

// pass runs one tier: a fresh bank over every candidate still open, filled
// with the tier's validator set.
func (r *run) pass(ctx context.Context, tier validate.Tier, candidates []lead.Candidate) error {
	r.tier = tier
	before := len(r.accepted)
	open := r.open(candidates)
	validators := r.engine.policy.AtTier(tier)
	deficit := r.target - len(r.accepted)

	r.engine.opts.Observer.TierStarted(tier, deficit)
	r.log.Debug("tier started",
		zap.Int("tier", int(tier)),
		zap.Int("deficit", deficit),
		zap.Int("candidates", len(open)),
		zap.Strings("validators", validatorNames(validators)),
	)

	if err := r.fill(ctx, r.engine.opts.NewBank(open), validators); err != nil {
		return err
	}

	r.engine.opts.Observer.TierFinished(tier, len(r.accepted)-before)
	r.log.Debug("tier finished",
		zap.Int("tier", int(tier)),
		zap.Int("tier_accepted", len(r.accepted)-before),
		zap.Int("accepted", len(r.accepted)),
	)
	return nil
}

// fill draws deficit-sized batches until the target is met or the bank is
// empty. Survivors are never more than the batch, so the target is never
// exceeded.
func (r *run) fill(ctx context.Context, b Bank, validators []validate.Validator) error {
	for !r.done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.Empty() {
			return nil
		}
		deficit := r.target - len(r.accepted)
		batch := b.Take(deficit)
		if len(batch) == 0 {
			return nil
		}

		records, err := r.enrich(ctx, batch)
		if err != nil {
			return err
		}
		survivors, err := validate.Run(ctx, validators, records, r.hook)
		if err != nil {
			return errors.Wrapf(err, "tier %d", r.tier)
		}
		for _, rec := range survivors {
			if _, dup := r.acceptedKeys[rec.Key]; dup {
				continue
			}
			r.acceptedKeys[rec.Key] = struct{}{}
			r.accepted = append(r.accepted, rec)
		}
		r.log.Debug("batch validated",
			zap.Int("tier", int(r.tier)),
			zap.Int("batch_size", len(batch)),
			zap.Int("enriched", len(records)),
			zap.Int("survivors", len(survivors)),
			zap.Int("accepted", len(r.accepted)),
		)
	}
	return nil
}

// enrich returns records for batch in batch order. Only identifiers never
// seen before are sent to the enricher, in a single call.
func (r *run) enrich(ctx context.Context, batch []lead.Candidate) ([]lead.Record, error) {
	var missing []lead.Candidate
	for _, c := range batch {
		if _, ok := r.enriched[c.Key]; ok {
			continue
		}
		if _, ok := r.unresolved[c.Key]; ok {
			continue
		}
		missing = append(missing, c)
	}

	if len(missing) > 0 {
		got, err := r.engine.enricher.Enrich(ctx, missing)
		if err != nil {
			return nil, errors.Wrapf(err, "enrich batch of %d", len(missing))
		}
		r.engine.opts.Observer.BatchEnriched(len(missing), len(got))

		requested := make(map[string]struct{}, len(missing))
		for _, c := range missing {
			requested[c.Key] = struct{}{}
		}
		for _, rec := range got {
			if _, ok := requested[rec.Key]; !ok {
				r.log.Warn("enricher returned unrequested identifier", zap.String("key", rec.Key))
				continue
			}
			if _, dup := r.enriched[rec.Key]; dup {
				r.log.Warn("enricher returned identifier twice", zap.String("key", rec.Key))
				continue
			}
			r.enriched[rec.Key] = rec.Clone()
		}
		for _, c := range missing {
			if _, ok := r.enriched[c.Key]; !ok {
				r.unresolved[c.Key] = struct{}{}
			}
		}
	}

	out := make([]lead.Record, 0, len(batch))
	for _, c := range batch {
		rec, ok := r.enriched[c.Key]
		if !ok {
			continue
		}
		rec = rec.Clone()
		rec.Signals = slices.Clone(c.Signals)
		out = append(out, rec)
	}
	return out, nil
}

// open returns candidates that are neither accepted nor known unresolvable.
func (r *run) open(candidates []lead.Candidate) []lead.Candidate {
	out := make([]lead.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := r.acceptedKeys[c.Key]; ok {
			continue
		}
		if _, ok := r.unresolved[c.Key]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *run) hook(name string, in, out int) {
	r.engine.opts.Observer.ValidatorApplied(name, in, out)
	if in != out {
		r.log.Debug("validator removed records",
			zap.Int("tier", int(r.tier)),
			zap.String("validator", name),
			zap.Int("removed", in-out),
		)
	}
}

func validatorNames(vs []validate.Validator) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Name())
	}
	return out
}
