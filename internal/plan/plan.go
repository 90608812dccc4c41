// Package plan reads fulfillment plans: the filters, target and validators
// of one leadfill run, written as YAML.
package plan

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/Standard-Labs/real-intent/internal/validators"
	"github.com/Standard-Labs/real-intent/pkg/lead"
	"github.com/Standard-Labs/real-intent/pkg/lead/validate"
)

var ErrInvalidPlan = errors.New("invalid plan")

// Plan is one fulfillment plan.
//
//	filters:
//	  intent_categories: ["Real Estate>Buying"]
//	  zips: ["22101"]
//	target: 25
//	default_validators: true
//	validators:
//	  - name: zip_code
//	    required: true
//	    args: {zips: ["22101"]}
//	  - name: mnw
//	    tier: 2
type Plan struct {
	Filters lead.Filters `yaml:"filters"`
	Target  int          `yaml:"target"`
	// Multiplier overrides fill.multiplier from the config when set.
	Multiplier float64 `yaml:"multiplier,omitempty"`

	// DefaultValidators adds contactable as a required validator.
	DefaultValidators bool `yaml:"default_validators"`
	// DefaultValidatorsFallback adds contactable as a fallback instead, at
	// the plan's highest tier so it is the first relaxed.
	DefaultValidatorsFallback bool `yaml:"default_validators_fallback"`

	Validators []Validator `yaml:"validators"`
}

// Validator names a registered validator. Exactly one of Required and a
// positive Tier is set.
type Validator struct {
	Name     string          `yaml:"name"`
	Required bool            `yaml:"required,omitempty"`
	Tier     int             `yaml:"tier,omitempty"`
	Args     validators.Args `yaml:"args,omitempty"`
}

// UnmarshalYAML decodes a validator entry. List-valued args keep each
// item's literal text, so `zips: [02134]` stays "02134" instead of
// resolving to an integer.
func (v *Validator) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Wrapf(ErrInvalidPlan, "line %d: validator must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch k := node.Content[i]; k.Value {
		case "name", "required", "tier", "args":
		default:
			return errors.Wrapf(ErrInvalidPlan, "line %d: unknown validator field %q", k.Line, k.Value)
		}
	}

	var raw struct {
		Name     string    `yaml:"name"`
		Required bool      `yaml:"required"`
		Tier     int       `yaml:"tier"`
		Args     yaml.Node `yaml:"args"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	args, err := decodeArgs(&raw.Args)
	if err != nil {
		return errors.Wrapf(err, "validator %q", raw.Name)
	}
	*v = Validator{Name: raw.Name, Required: raw.Required, Tier: raw.Tier, Args: args}
	return nil
}

func decodeArgs(n *yaml.Node) (validators.Args, error) {
	if n.Kind == 0 || (n.Kind == yaml.ScalarNode && n.Tag == "!!null") {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, errors.Wrapf(ErrInvalidPlan, "line %d: args must be a mapping", n.Line)
	}
	args := validators.Args{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		if val.Kind == yaml.SequenceNode {
			items := make([]string, 0, len(val.Content))
			for _, item := range val.Content {
				if item.Kind != yaml.ScalarNode {
					return nil, errors.Wrapf(ErrInvalidPlan, "line %d: %q items must be scalars", item.Line, key)
				}
				items = append(items, item.Value)
			}
			args[key] = items
			continue
		}
		var value any
		if err := val.Decode(&value); err != nil {
			return nil, errors.Wrapf(err, "line %d: decode %q", val.Line, key)
		}
		args[key] = value
	}
	return args, nil
}

// Load reads and validates the plan at path.
func Load(path string) (*Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read plan %s", path)
	}
	p, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "plan %s", path)
	}
	return p, nil
}

// Parse decodes and validates a plan. Unknown fields are rejected.
func Parse(b []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.Wrap(ErrInvalidPlan, "empty document")
		}
		return nil, errors.Wrap(err, "decode plan")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the plan's shape. Validator names and args are checked by
// Policy against the registry.
func (p *Plan) Validate() error {
	if err := p.Filters.Validate(); err != nil {
		return err
	}
	if p.Target < 0 {
		return errors.Wrapf(ErrInvalidPlan, "target must not be negative, got %d", p.Target)
	}
	if p.Multiplier != 0 && !(p.Multiplier > 1) {
		return errors.Wrapf(ErrInvalidPlan, "multiplier must be greater than 1, got %v", p.Multiplier)
	}
	if p.DefaultValidators && p.DefaultValidatorsFallback {
		return errors.WithHint(
			errors.Wrap(ErrInvalidPlan, "default_validators and default_validators_fallback are exclusive"),
			"pick one: required or fallback",
		)
	}
	for i, v := range p.Validators {
		if strings.TrimSpace(v.Name) == "" {
			return errors.Wrapf(ErrInvalidPlan, "validators[%d]: missing name", i)
		}
		switch {
		case v.Required && v.Tier != 0:
			return errors.Wrapf(ErrInvalidPlan, "validators[%d] %s: required validators take no tier", i, v.Name)
		case !v.Required && v.Tier < 1:
			return errors.WithHint(
				errors.Wrapf(ErrInvalidPlan, "validators[%d] %s: needs required: true or tier >= 1", i, v.Name),
				"higher tiers are relaxed first",
			)
		}
	}
	return nil
}

// Policy builds the validation policy, resolving names through reg.
func (p *Plan) Policy(reg *validators.Registry, deps validators.Deps) (validate.Policy, error) {
	b := validate.NewBuilder()

	if p.DefaultValidators {
		if err := b.RegisterRequired(validators.Contactable()); err != nil {
			return validate.Policy{}, err
		}
	}

	for i, vc := range p.Validators {
		v, err := reg.Build(vc.Name, vc.Args, deps)
		if err != nil {
			return validate.Policy{}, errors.Wrapf(err, "validators[%d]", i)
		}
		if vc.Required {
			err = b.RegisterRequired(v)
		} else {
			err = b.RegisterFallback(v, validate.Tier(vc.Tier))
		}
		if err != nil {
			return validate.Policy{}, errors.Wrapf(err, "validators[%d]", i)
		}
	}

	if p.DefaultValidatorsFallback {
		if err := b.RegisterFallback(validators.Contactable(), p.highestTier()); err != nil {
			return validate.Policy{}, err
		}
	}
	return b.Build(), nil
}

func (p *Plan) highestTier() validate.Tier {
	highest := 1
	for _, v := range p.Validators {
		highest = max(highest, v.Tier)
	}
	return validate.Tier(highest)
}
