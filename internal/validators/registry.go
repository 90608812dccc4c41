package validators

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/Standard-Labs/real-intent/internal/worker"
	"github.com/Standard-Labs/real-intent/pkg/lead"
	"github.com/Standard-Labs/real-intent/pkg/lead/validate"
)

var (
	ErrUnknownValidator  = errors.New("unknown validator")
	ErrMissingDependency = errors.New("validator dependency not configured")
	ErrInvalidArgs       = errors.New("invalid validator args")
)

// Args are the free-form arguments of one named validator, as decoded from a
// plan.
type Args map[string]any

// Deps are the external collaborators some validators need, with the worker
// pool settings of each checker.
type Deps struct {
	Emails      EmailChecker
	EmailChecks worker.Options
	Phones      PhoneChecker
	PhoneChecks worker.Options
	Suppression SuppressionList
}

// Constructor builds a validator from its args.
type Constructor func(args Args, deps Deps) (validate.Validator, error)

// Registry maps validator names to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns a registry holding every built-in validator.
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]Constructor)}
	for name, ctor := range builtins() {
		r.ctors[name] = ctor
	}
	return r
}

// Register adds or replaces a constructor.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.ctors))
}

// Build constructs the validator registered under name.
func (r *Registry) Build(name string, args Args, deps Deps) (validate.Validator, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WithHintf(
			errors.Wrapf(ErrUnknownValidator, "%q", name),
			"known validators: %s", strings.Join(r.Names(), ", "),
		)
	}
	v, err := ctor(args, deps)
	if err != nil {
		return nil, errors.Wrapf(err, "validator %s", name)
	}
	return v, nil
}

func builtins() map[string]Constructor {
	return map[string]Constructor{
		"zip_code": func(a Args, _ Deps) (validate.Validator, error) {
			zips, err := a.stringList("zips", true)
			if err != nil {
				return nil, err
			}
			return ZipCode(zips...), nil
		},
		"contactable": noArgs(Contactable),
		"key_blocklist": func(a Args, _ Deps) (validate.Validator, error) {
			keys, err := a.stringList("keys", true)
			if err != nil {
				return nil, err
			}
			return KeyBlocklist(keys...), nil
		},
		"same_person": noArgs(SamePerson),
		"signal_count": func(a Args, _ Deps) (validate.Validator, error) {
			n, err := a.intArg("min", 1)
			if err != nil {
				return nil, err
			}
			unique, err := a.boolArg("unique", false)
			if err != nil {
				return nil, err
			}
			return SignalCount(n, unique), nil
		},
		"gender": func(a Args, _ Deps) (validate.Validator, error) {
			raw, err := a.stringList("genders", true)
			if err != nil {
				return nil, err
			}
			genders := make([]lead.Gender, 0, len(raw))
			for _, g := range raw {
				switch strings.ToLower(g) {
				case "male", "m":
					genders = append(genders, lead.GenderMale)
				case "female", "f":
					genders = append(genders, lead.GenderFemale)
				case "unknown":
					genders = append(genders, lead.GenderUnknown)
				default:
					return nil, errors.Wrapf(ErrInvalidArgs, "unknown gender %q", g)
				}
			}
			return Gender(genders...), nil
		},
		"age_range": func(a Args, _ Deps) (validate.Validator, error) {
			lo, err := a.intArg("min", 0)
			if err != nil {
				return nil, err
			}
			hi, err := a.intArg("max", 200)
			if err != nil {
				return nil, err
			}
			if lo > hi {
				return nil, errors.Wrapf(ErrInvalidArgs, "min %d > max %d", lo, hi)
			}
			return AgeRange(lo, hi), nil
		},
		"remove_occupations": func(a Args, _ Deps) (validate.Validator, error) {
			occ, err := a.stringList("occupations", true)
			if err != nil {
				return nil, err
			}
			return RemoveOccupations(occ...), nil
		},
		"no_real_estate_agents": noArgs(NoRealEstateAgents),
		"mid_income":            noArgs(MidIncome),
		"high_income":           noArgs(HighIncome),
		"mnw":                   noArgs(MNW),
		"hnw":                   noArgs(HNW),
		"not_renter":            noArgs(NotRenter),
		"not_apartment":         noArgs(NotApartment),
		"has_email":             noArgs(HasEmail),
		"has_phone":             noArgs(HasPhone),
		"dnc": func(a Args, _ Deps) (validate.Validator, error) {
			strict, err := a.boolArg("strict", false)
			if err != nil {
				return nil, err
			}
			return DNC(strict), nil
		},
		"dnc_phone_remover": noArgs(DNCPhoneRemover),
		"callable": func(a Args, d Deps) (validate.Validator, error) {
			strict, err := a.boolArg("strict", false)
			if err != nil {
				return nil, err
			}
			var phone validate.Validator
			if d.Phones != nil {
				phone = sequence("valid_phone", PhoneValidity(d.Phones, d.PhoneChecks), HasPhone())
			}
			return Callable(phone, DNC(strict)), nil
		},
		"email_deliverability": func(_ Args, d Deps) (validate.Validator, error) {
			if d.Emails == nil {
				return nil, errors.WithHint(
					errors.Wrap(ErrMissingDependency, "email checker"),
					"set checks.millionverifier_api_key",
				)
			}
			return EmailDeliverability(d.Emails, d.EmailChecks), nil
		},
		"phone_validity": func(_ Args, d Deps) (validate.Validator, error) {
			if d.Phones == nil {
				return nil, errors.WithHint(
					errors.Wrap(ErrMissingDependency, "phone checker"),
					"set checks.numverify_api_key",
				)
			}
			return PhoneValidity(d.Phones, d.PhoneChecks), nil
		},
		"do_not_sell": func(_ Args, d Deps) (validate.Validator, error) {
			if d.Suppression == nil {
				return nil, errors.WithHint(
					errors.Wrap(ErrMissingDependency, "suppression list"),
					"set redis.url",
				)
			}
			return DoNotSell(d.Suppression), nil
		},
	}
}

func noArgs(fn func() validate.Validator) Constructor {
	return func(Args, Deps) (validate.Validator, error) {
		return fn(), nil
	}
}

func sequence(name string, chain ...validate.Validator) validate.Validator {
	return validate.Func{
		ID: name,
		Fn: func(ctx context.Context, records []lead.Record) ([]lead.Record, error) {
			return validate.Run(ctx, chain, records, nil)
		},
	}
}

func (a Args) stringList(key string, required bool) ([]string, error) {
	raw, ok := a[key]
	if !ok || raw == nil {
		if required {
			return nil, errors.Wrapf(ErrInvalidArgs, "missing %q", key)
		}
		return nil, nil
	}
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, errors.WithHint(
					errors.Wrapf(ErrInvalidArgs, "%q[%d]: want a string, got %T", key, i, item),
					"quote the value; a number loses leading zeros",
				)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, errors.Wrapf(ErrInvalidArgs, "%q: want a list of strings, got %T", key, raw)
	}
}

func (a Args) intArg(key string, fallback int) (int, error) {
	raw, ok := a[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, errors.Wrapf(ErrInvalidArgs, "%q: %v is not a whole number", key, v)
		}
		return int(v), nil
	default:
		return 0, errors.Wrapf(ErrInvalidArgs, "%q: want an integer, got %T", key, raw)
	}
}

func (a Args) boolArg(key string, fallback bool) (bool, error) {
	raw, ok := a[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	v, ok := raw.(bool)
	if !ok {
		return false, errors.Wrapf(ErrInvalidArgs, "%q: want a boolean, got %T", key, raw)
	}
	return v, nil
}
