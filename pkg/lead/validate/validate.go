// Package validate defines the validator capability, the immutable
// required/fallback policy the engine runs with, and the filter pipeline
// that applies a validator set to a batch of records.
package validate

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/Standard-Labs/real-intent/pkg/lead"
)

var (
	// ErrNilValidator is returned when registering a nil validator.
	ErrNilValidator = errors.New("validator is nil")
	// ErrInvalidTier is returned when a fallback tier is not a positive integer.
	ErrInvalidTier = errors.New("fallback tier must be >= 1")
	// ErrContract is returned when a validator output is not an
	// order-preserving subsequence of its input.
	ErrContract = errors.New("validator broke the subsequence contract")
)

// Validator removes records it considers invalid. Validate must return an
// order-preserving subsequence of its input (by key) and must not mutate the
// input records; transforming validators return modified clones.
type Validator interface {
	Name() string
	Validate(ctx context.Context, records []lead.Record) ([]lead.Record, error)
}

// Func adapts a function to the Validator interface.
type Func struct {
	ID string
	Fn func(ctx context.Context, records []lead.Record) ([]lead.Record, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Validate(ctx context.Context, records []lead.Record) ([]lead.Record, error) {
	return f.Fn(ctx, records)
}

// Keep builds a validator that keeps records for which keep returns true.
func Keep(name string, keep func(lead.Record) bool) Validator {
	return Func{
		ID: name,
		Fn: func(_ context.Context, records []lead.Record) ([]lead.Record, error) {
			out := make([]lead.Record, 0, len(records))
			for _, r := range records {
				if keep(r) {
					out = append(out, r)
				}
			}
			return out, nil
		},
	}
}

// Hook observes each validator application.
type Hook func(name string, in, out int)

// Run pipes records through validators in order: each validator's output is
// the next one's input. An empty validator list passes records through.
func Run(ctx context.Context, validators []Validator, records []lead.Record, hook Hook) ([]lead.Record, error) {
	cur := records
	for _, v := range validators {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := v.Validate(ctx, cur)
		if err != nil {
			return nil, errors.Wrapf(err, "validator %s", v.Name())
		}
		if !isSubsequence(cur, next) {
			return nil, errors.Wrapf(ErrContract, "validator %s", v.Name())
		}
		if hook != nil {
			hook(v.Name(), len(cur), len(next))
		}
		cur = next
	}
	return cur, nil
}

func isSubsequence(in, out []lead.Record) bool {
	if len(out) > len(in) {
		return false
	}
	i := 0
	for _, r := range out {
		for i < len(in) && in[i].Key != r.Key {
			i++
		}
		if i == len(in) {
			return false
		}
		i++
	}
	return true
}

// Tier ranks a fallback validator in the relaxation order. Tier 1 is the
// strictest and is never dropped; higher numbers are dropped first. A policy
// at tier k runs every fallback validator whose tier is <= k, so lowering k
// loosens validation.
type Tier int

type tiered struct {
	tier      Tier
	validator Validator
}

// Policy is an immutable validator configuration: required validators that
// run at every tier plus tier-ranked fallback validators.
type Policy struct {
	required []Validator
	fallback []tiered
}

// LowestTier returns the highest tier number among fallback validators, or 0
// when none are registered.
func (p Policy) LowestTier() Tier {
	var lowest Tier
	for _, f := range p.fallback {
		if f.tier > lowest {
			lowest = f.tier
		}
	}
	return lowest
}

// Tiers returns the distinct fallback tiers, highest first. Tiers with no
// validator are absent.
func (p Policy) Tiers() []Tier {
	var out []Tier
	for _, f := range p.fallback {
		if !slices.Contains(out, f.tier) {
			out = append(out, f.tier)
		}
	}
	slices.Sort(out)
	slices.Reverse(out)
	return out
}

// AtTier returns the strictness set for fallback level k: every required
// validator in registration order, then every fallback validator with tier
// <= k ordered by ascending tier (registration order within a tier).
func (p Policy) AtTier(k Tier) []Validator {
	out := slices.Clone(p.required)
	for _, f := range p.fallback {
		if f.tier <= k {
			out = append(out, f.validator)
		}
	}
	return out
}

// Required returns the required validators.
func (p Policy) Required() []Validator {
	return slices.Clone(p.required)
}

// All returns every registered validator, fallback included.
func (p Policy) All() []Validator {
	return p.AtTier(p.LowestTier())
}

// Empty reports whether no validator is registered.
func (p Policy) Empty() bool {
	return len(p.required) == 0 && len(p.fallback) == 0
}

// Builder collects registrations before a run. It is not safe for
// concurrent use; Build snapshots it into a Policy.
type Builder struct {
	required []Validator
	fallback []tiered
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// RegisterRequired adds a validator applied at every tier.
func (b *Builder) RegisterRequired(v Validator) error {
	if v == nil {
		return ErrNilValidator
	}
	b.required = append(b.required, v)
	return nil
}

// RegisterFallback adds a validator that is dropped once the controller
// relaxes below tier. Tiers need not be contiguous.
func (b *Builder) RegisterFallback(v Validator, tier Tier) error {
	if v == nil {
		return ErrNilValidator
	}
	if tier < 1 {
		return errors.Wrapf(ErrInvalidTier, "got %d for %s", tier, v.Name())
	}
	b.fallback = append(b.fallback, tiered{tier: tier, validator: v})
	return nil
}

// ClearAll drops every registration.
func (b *Builder) ClearAll() {
	b.required = nil
	b.fallback = nil
}

// Build snapshots the registrations. Later builder changes do not affect the
// returned policy.
func (b *Builder) Build() Policy {
	fallback := slices.Clone(b.fallback)
	slices.SortStableFunc(fallback, func(x, y tiered) int {
		return int(x.tier) - int(y.tier)
	})
	return Policy{
		required: slices.Clone(b.required),
		fallback: fallback,
	}
}
