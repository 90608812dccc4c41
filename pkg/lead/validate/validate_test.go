package validate_test

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Standard-Labs/real-intent/pkg/lead"
	"github.com/Standard-Labs/real-intent/pkg/lead/validate"
)

func records(keys ...string) []lead.Record {
	out := make([]lead.Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, lead.Record{Key: k})
	}
	return out
}

func rejectSuffix(name, suffix string) validate.Validator {
	return validate.Keep(name, func(r lead.Record) bool {
		return !strings.HasSuffix(r.Key, suffix)
	})
}

func names(vs []validate.Validator) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Name())
	}
	return out
}

func TestBuilder_RejectsInvalidRegistrations(t *testing.T) {
	t.Parallel()

	b := validate.NewBuilder()
	require.ErrorIs(t, b.RegisterRequired(nil), validate.ErrNilValidator)
	require.ErrorIs(t, b.RegisterFallback(nil, 1), validate.ErrNilValidator)

	err := b.RegisterFallback(rejectSuffix("x", "1"), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, validate.ErrInvalidTier))

	assert.True(t, b.Build().Empty())
}

func TestPolicy_AtTier(t *testing.T) {
	t.Parallel()

	b := validate.NewBuilder()
	require.NoError(t, b.RegisterFallback(rejectSuffix("t3", "9"), 3))
	require.NoError(t, b.RegisterRequired(rejectSuffix("req-a", "0")))
	require.NoError(t, b.RegisterFallback(rejectSuffix("t1", "7"), 1))
	require.NoError(t, b.RegisterFallback(rejectSuffix("t5", "6"), 5))
	require.NoError(t, b.RegisterFallback(rejectSuffix("t3b", "5"), 3))
	require.NoError(t, b.RegisterRequired(rejectSuffix("req-b", "4")))
	p := b.Build()

	assert.Equal(t, validate.Tier(5), p.LowestTier())

	tests := []struct {
		tier validate.Tier
		want []string
	}{
		{tier: 0, want: []string{"req-a", "req-b"}},
		{tier: 1, want: []string{"req-a", "req-b", "t1"}},
		{tier: 2, want: []string{"req-a", "req-b", "t1"}},
		{tier: 3, want: []string{"req-a", "req-b", "t1", "t3", "t3b"}},
		{tier: 4, want: []string{"req-a", "req-b", "t1", "t3", "t3b"}},
		{tier: 5, want: []string{"req-a", "req-b", "t1", "t3", "t3b", "t5"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, names(p.AtTier(tt.tier)), "tier %d", tt.tier)
	}
	assert.Equal(t, names(p.AtTier(5)), names(p.All()))
	assert.Equal(t, []string{"req-a", "req-b"}, names(p.Required()))
	assert.Equal(t, []validate.Tier{5, 3, 1}, p.Tiers())
}

func TestPolicy_NoFallbackHasTierZero(t *testing.T) {
	t.Parallel()

	b := validate.NewBuilder()
	require.NoError(t, b.RegisterRequired(rejectSuffix("req", "1")))
	p := b.Build()

	assert.Equal(t, validate.Tier(0), p.LowestTier())
	assert.Empty(t, p.Tiers())
	assert.False(t, p.Empty())
	assert.Equal(t, []string{"req"}, names(p.AtTier(1)))
}

func TestBuilder_BuildSnapshotsAndClearAll(t *testing.T) {
	t.Parallel()

	b := validate.NewBuilder()
	require.NoError(t, b.RegisterRequired(rejectSuffix("req", "1")))
	p := b.Build()

	b.ClearAll()
	require.NoError(t, b.RegisterFallback(rejectSuffix("fb", "2"), 2))

	assert.Equal(t, []string{"req"}, names(p.All()))
	assert.Equal(t, []string{"fb"}, names(b.Build().All()))
}

func TestRun_PipesInOrder(t *testing.T) {
	t.Parallel()

	var calls []string
	hook := func(name string, in, out int) {
		calls = append(calls, name)
		if name == "drop-1" {
			assert.Equal(t, 4, in)
			assert.Equal(t, 3, out)
		}
		if name == "drop-3" {
			assert.Equal(t, 3, in)
			assert.Equal(t, 2, out)
		}
	}

	out, err := validate.Run(context.Background(), []validate.Validator{
		rejectSuffix("drop-1", "1"),
		rejectSuffix("drop-3", "3"),
	}, records("k1", "k2", "k3", "k4"), hook)
	require.NoError(t, err)
	assert.Equal(t, []string{"k2", "k4"}, lead.Keys(out))
	assert.Equal(t, []string{"drop-1", "drop-3"}, calls)
}

func TestRun_EmptyValidatorSetPassesThrough(t *testing.T) {
	t.Parallel()

	in := records("a", "b")
	out, err := validate.Run(context.Background(), nil, in, nil)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRun_PropagatesValidatorError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	failing := validate.Func{ID: "failing", Fn: func(context.Context, []lead.Record) ([]lead.Record, error) {
		return nil, boom
	}}

	_, err := validate.Run(context.Background(), []validate.Validator{failing}, records("a"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "failing")
}

func TestRun_RejectsContractViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func([]lead.Record) []lead.Record
	}{
		{name: "introduces record", fn: func(in []lead.Record) []lead.Record {
			return append(in, lead.Record{Key: "intruder"})
		}},
		{name: "reorders survivors", fn: func(in []lead.Record) []lead.Record {
			return []lead.Record{in[1], in[0]}
		}},
		{name: "duplicates record", fn: func(in []lead.Record) []lead.Record {
			return []lead.Record{in[0], in[0]}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := validate.Func{ID: tt.name, Fn: func(_ context.Context, in []lead.Record) ([]lead.Record, error) {
				return tt.fn(in), nil
			}}
			_, err := validate.Run(context.Background(), []validate.Validator{v}, records("a", "b"), nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, validate.ErrContract))
		})
	}
}

func TestRun_StopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := validate.Run(ctx, []validate.Validator{rejectSuffix("x", "1")}, records("a"), nil)
	require.ErrorIs(t, err, context.Canceled)
}
