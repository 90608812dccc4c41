package fill_test

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Standard-Labs/real-intent/pkg/lead"
	"github.com/Standard-Labs/real-intent/pkg/lead/bank"
	"github.com/Standard-Labs/real-intent/pkg/lead/fill"
	"github.com/Standard-Labs/real-intent/pkg/lead/validate"
)

var testFilters = lead.Filters{IntentCategories: []string{"Real Estate>Buying"}}

type stubSource struct {
	events []lead.Candidate

	submitErr error
	awaitErr  error
	fetchErr  error

	submits []int
}

func (s *stubSource) Submit(_ context.Context, _ lead.Filters, desired int) (lead.JobID, error) {
	s.submits = append(s.submits, desired)
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return "job-1", nil
}

func (s *stubSource) Await(context.Context, lead.JobID) error { return s.awaitErr }

func (s *stubSource) Fetch(context.Context, lead.JobID) ([]lead.Candidate, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.events, nil
}

type stubEnricher struct {
	unresolvable map[string]bool
	err          error
	calls        [][]string
	// mangle rewrites the enricher output before it is returned.
	mangle func([]lead.Record) []lead.Record
}

func (e *stubEnricher) Enrich(_ context.Context, candidates []lead.Candidate) ([]lead.Record, error) {
	keys := make([]string, 0, len(candidates))
	for _, c := range candidates {
		keys = append(keys, c.Key)
	}
	e.calls = append(e.calls, keys)
	if e.err != nil {
		return nil, e.err
	}
	out := make([]lead.Record, 0, len(candidates))
	for _, c := range candidates {
		if e.unresolvable[c.Key] {
			continue
		}
		out = append(out, lead.Record{
			Key:     c.Key,
			Contact: lead.Contact{FirstName: "first-" + c.Key, ZipCode: "22101"},
			Signals: c.Signals,
		})
	}
	if e.mangle != nil {
		out = e.mangle(out)
	}
	return out, nil
}

type recordingObserver struct {
	tiers     []validate.Tier
	finished  []validate.Tier
	accepted  []int
	batches   [][2]int
	validated []string
}

func (o *recordingObserver) TierStarted(t validate.Tier, _ int) { o.tiers = append(o.tiers, t) }

func (o *recordingObserver) BatchEnriched(req, got int) {
	o.batches = append(o.batches, [2]int{req, got})
}

func (o *recordingObserver) ValidatorApplied(name string, _, _ int) {
	o.validated = append(o.validated, name)
}

func (o *recordingObserver) TierFinished(t validate.Tier, accepted int) {
	o.finished = append(o.finished, t)
	o.accepted = append(o.accepted, accepted)
}

// takeRecorder wraps the default bank and logs every Take size.
type takeRecorder struct {
	fill.Bank
	takes *[]int
}

func (b takeRecorder) Take(n int) []lead.Candidate {
	*b.takes = append(*b.takes, n)
	return b.Bank.Take(n)
}

func rejectSuffix(name, suffix string) validate.Validator {
	return validate.Keep(name, func(r lead.Record) bool {
		return !strings.HasSuffix(r.Key, suffix)
	})
}

func candidates(keys ...string) []lead.Candidate {
	out := make([]lead.Candidate, 0, len(keys))
	for _, k := range keys {
		out = append(out, lead.Candidate{Key: k, Signals: []string{"signal-" + k}})
	}
	return out
}

func reject(name string, keys ...string) validate.Validator {
	return validate.Keep(name, func(r lead.Record) bool {
		return !slices.Contains(keys, r.Key)
	})
}

func rejectAll(name string) validate.Validator {
	return validate.Keep(name, func(lead.Record) bool { return false })
}

type registration struct {
	v    validate.Validator
	tier validate.Tier // 0 means required
}

func policy(t *testing.T, regs ...registration) validate.Policy {
	t.Helper()
	b := validate.NewBuilder()
	for _, r := range regs {
		if r.tier == 0 {
			require.NoError(t, b.RegisterRequired(r.v))
			continue
		}
		require.NoError(t, b.RegisterFallback(r.v, r.tier))
	}
	return b.Build()
}

func newEngine(t *testing.T, src fill.IntentSource, enr fill.Enricher, p validate.Policy, opts fill.Options) *fill.Engine {
	t.Helper()
	e, err := fill.New(src, enr, p, opts)
	require.NoError(t, err)
	return e
}

func requireNoDuplicates(t *testing.T, records []lead.Record) {
	t.Helper()
	seen := map[string]bool{}
	for _, r := range records {
		require.False(t, seen[r.Key], "duplicate key %q", r.Key)
		seen[r.Key] = true
	}
}

func TestFulfill_RequiredRejectionsRefilledFromBank(t *testing.T) {
	t.Parallel()

	src := &stubSource{events: candidates("k1", "k2", "k3", "k4", "k5", "k6", "k7", "k8")}
	enr := &stubEnricher{}
	e := newEngine(t, src, enr, policy(t, registration{v: reject("no-k3-k6", "k3", "k6")}), fill.Options{Multiplier: 2})

	got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 5})
	require.NoError(t, err)

	assert.Equal(t, []string{"k1", "k2", "k4", "k5", "k7"}, lead.Keys(got))
	assert.Equal(t, []int{10}, src.submits)
	assert.Equal(t, [][]string{{"k1", "k2", "k3", "k4", "k5"}, {"k6"}, {"k7"}}, enr.calls)
	requireNoDuplicates(t, got)
}

func TestFulfill_ExhaustionReturnsShortList(t *testing.T) {
	t.Parallel()

	src := &stubSource{events: candidates("a", "b", "c")}
	e := newEngine(t, src, &stubEnricher{}, validate.Policy{}, fill.Options{})

	got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, lead.Keys(got))
	assert.Equal(t, []int{25}, src.submits)
}

func TestFulfill_NoValidatorsPassesThrough(t *testing.T) {
	t.Parallel()

	enr := &stubEnricher{}
	src := &stubSource{events: candidates("a", "b", "c", "d", "e")}
	e := newEngine(t, src, enr, validate.NewBuilder().Build(), fill.Options{})

	got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, lead.Keys(got))
	assert.Len(t, enr.calls, 1)
	assert.Equal(t, []string{"signal-a"}, got[0].Signals)
}

func TestFulfill_TiersRunStrictestFirst(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	var banks int
	opts := fill.Options{
		Observer: obs,
		NewBank: func(c []lead.Candidate) fill.Bank {
			banks++
			return bank.New(c)
		},
	}
	p := policy(t,
		registration{v: rejectAll("tier-1"), tier: 1},
		registration{v: reject("tier-2"), tier: 2},
		registration{v: reject("tier-3"), tier: 3},
	)
	e := newEngine(t, &stubSource{events: candidates("a", "b")}, &stubEnricher{}, p, opts)

	got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 2})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, []validate.Tier{3, 2, 1}, obs.tiers)
	assert.Equal(t, []validate.Tier{3, 2, 1}, obs.finished)
	assert.Equal(t, 3, banks)
}

func TestFulfill_AbsentTiersAreSkipped(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	var takes []int
	opts := fill.Options{
		Observer: obs,
		NewBank: func(c []lead.Candidate) fill.Bank {
			return takeRecorder{Bank: bank.New(c), takes: &takes}
		},
	}
	p := policy(t,
		registration{v: rejectSuffix("no-9", "9"), tier: 3},
		registration{v: rejectSuffix("no-8", "8"), tier: 2},
	)
	enr := &stubEnricher{}
	e := newEngine(t, &stubSource{events: candidates("k1", "k8", "k9", "k2")}, enr, p, opts)

	got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 4})
	require.NoError(t, err)

	assert.Equal(t, []string{"k1", "k2", "k9", "k8"}, lead.Keys(got))
	// Tier 1 has no fallback: its pass runs required validators only.
	assert.Equal(t, []validate.Tier{3, 2, 1}, obs.tiers)
	assert.Equal(t, []int{4, 2, 1}, takes)
	assert.Equal(t, []int{2, 1, 1}, obs.accepted)
	assert.Len(t, enr.calls, 1)
}

func TestFulfill_GapTiersDoNotRerunValidators(t *testing.T) {
	t.Parallel()

	var runs, checked int
	required := validate.Func{ID: "no-b", Fn: func(_ context.Context, in []lead.Record) ([]lead.Record, error) {
		runs++
		checked += len(in)
		out := make([]lead.Record, 0, len(in))
		for _, r := range in {
			if r.Key != "b" {
				out = append(out, r)
			}
		}
		return out, nil
	}}
	obs := &recordingObserver{}
	p := policy(t,
		registration{v: required},
		registration{v: rejectAll("tier-5"), tier: 5},
		registration{v: reject("no-a", "a"), tier: 1},
	)
	e := newEngine(t, &stubSource{events: candidates("a", "b", "c")}, &stubEnricher{}, p, fill.Options{Observer: obs})

	got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 3})
	require.NoError(t, err)

	assert.Equal(t, []string{"c"}, lead.Keys(got))
	assert.Equal(t, []validate.Tier{5, 1}, obs.tiers)
	assert.Equal(t, 2, runs)
	assert.Equal(t, 6, checked)
}

func TestFulfill_SkipsLooserTiersOnceTargetMet(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	p := policy(t,
		registration{v: reject("tier-1"), tier: 1},
		registration{v: reject("tier-4"), tier: 4},
	)
	e := newEngine(t, &stubSource{events: candidates("a", "b", "c")}, &stubEnricher{}, p, fill.Options{Observer: obs})

	got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lead.Keys(got))
	assert.Equal(t, []validate.Tier{4}, obs.tiers)
}

func TestFulfill_RelaxedTierReevaluatesRejectedWithoutReenriching(t *testing.T) {
	t.Parallel()

	enr := &stubEnricher{}
	obs := &recordingObserver{}
	p := policy(t,
		registration{v: reject("strict", "k2", "k4"), tier: 2},
		registration{v: reject("loose"), tier: 1},
	)
	e := newEngine(t, &stubSource{events: candidates("k1", "k2", "k3", "k4", "k5")}, enr, p, fill.Options{Observer: obs})

	got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 4})
	require.NoError(t, err)

	assert.Equal(t, []string{"k1", "k3", "k5", "k2"}, lead.Keys(got))
	assert.Equal(t, [][]string{{"k1", "k2", "k3", "k4"}, {"k5"}}, enr.calls)
	assert.Equal(t, []validate.Tier{2, 1}, obs.tiers)
	assert.Equal(t, []int{3, 1}, obs.accepted)
	requireNoDuplicates(t, got)
}

func TestFulfill_UnresolvedIdentifiersAreNotRetried(t *testing.T) {
	t.Parallel()

	enr := &stubEnricher{unresolvable: map[string]bool{"k2": true}}
	p := policy(t,
		registration{v: rejectAll("strict"), tier: 2},
		registration{v: reject("loose"), tier: 1},
	)
	e := newEngine(t, &stubSource{events: candidates("k1", "k2", "k3")}, enr, p, fill.Options{})

	got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k3"}, lead.Keys(got))
	assert.Equal(t, [][]string{{"k1", "k2", "k3"}}, enr.calls)
}

func TestFulfill_RepeatedEventsCollapse(t *testing.T) {
	t.Parallel()

	src := &stubSource{events: []lead.Candidate{
		{Key: "k1", Signals: []string{"Mortgage"}},
		{Key: "k2", Signals: []string{"Mortgage"}},
		{Key: "k1", Signals: []string{"Moving"}},
	}}
	e := newEngine(t, src, &stubEnricher{}, validate.Policy{}, fill.Options{})

	got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 5})
	require.NoError(t, err)
	require.Equal(t, []string{"k1", "k2"}, lead.Keys(got))
	assert.Equal(t, []string{"Mortgage", "Moving"}, got[0].Signals)
}

func TestFulfill_DropsMisbehavingEnricherOutput(t *testing.T) {
	t.Parallel()

	enr := &stubEnricher{mangle: func(in []lead.Record) []lead.Record {
		out := []lead.Record{{Key: "intruder"}}
		slices.Reverse(in)
		out = append(out, in...)
		return append(out, in[0])
	}}
	e := newEngine(t, &stubSource{events: candidates("a", "b", "c")}, enr, validate.Policy{}, fill.Options{})

	got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, lead.Keys(got))
}

func TestFulfill_TargetNeverExceeded(t *testing.T) {
	t.Parallel()

	var events []lead.Candidate
	for i := 0; i < 40; i++ {
		events = append(events, lead.Candidate{Key: string(rune('A' + i))})
	}
	odd := validate.Keep("odd", func(r lead.Record) bool { return r.Key[0]%2 == 1 })

	for target := 1; target <= 25; target++ {
		e := newEngine(t, &stubSource{events: events}, &stubEnricher{}, policy(t, registration{v: odd}), fill.Options{})
		got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: target})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), target)
		assert.Len(t, got, min(target, 20))
		requireNoDuplicates(t, got)
	}
}

func TestFulfill_RequiredValidatorsHoldOnOutput(t *testing.T) {
	t.Parallel()

	required := reject("required", "k2", "k5")
	p := policy(t,
		registration{v: required},
		registration{v: reject("fallback", "k1", "k3"), tier: 2},
	)
	e := newEngine(t, &stubSource{events: candidates("k1", "k2", "k3", "k4", "k5", "k6")}, &stubEnricher{}, p, fill.Options{})

	got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 6})
	require.NoError(t, err)

	again, err := validate.Run(context.Background(), []validate.Validator{required}, got, nil)
	require.NoError(t, err)
	assert.Equal(t, lead.Keys(got), lead.Keys(again))
	assert.ElementsMatch(t, []string{"k1", "k3", "k4", "k6"}, lead.Keys(got))
}

func TestFulfill_LooserPolicyAcceptsSuperset(t *testing.T) {
	t.Parallel()

	events := candidates("k1", "k2", "k3", "k4", "k5", "k6", "k7")
	strict := policy(t,
		registration{v: reject("t1", "k1"), tier: 1},
		registration{v: reject("t2", "k2", "k3"), tier: 2},
		registration{v: reject("t3", "k4"), tier: 3},
	)
	loose := policy(t,
		registration{v: reject("t1", "k1"), tier: 1},
		registration{v: reject("t2", "k2", "k3"), tier: 2},
	)

	run := func(p validate.Policy) []string {
		e := newEngine(t, &stubSource{events: events}, &stubEnricher{}, p, fill.Options{})
		got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 100})
		require.NoError(t, err)
		return lead.Keys(got)
	}
	strictKeys := run(strict)
	looseKeys := run(loose)
	for _, k := range strictKeys {
		assert.Contains(t, looseKeys, k)
	}
}

func TestFulfill_ZeroTargetSkipsUpstream(t *testing.T) {
	t.Parallel()

	src := &stubSource{events: candidates("a")}
	enr := &stubEnricher{}
	e := newEngine(t, src, enr, validate.Policy{}, fill.Options{})

	got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 0})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Empty(t, src.submits)
	assert.Empty(t, enr.calls)
}

func TestFulfill_ConfigurationErrors(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &stubSource{}, &stubEnricher{}, validate.Policy{}, fill.Options{})

	_, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: -1})
	assert.True(t, errors.Is(err, fill.ErrInvalidTarget))

	_, err = e.Fulfill(context.Background(), lead.Request{Target: 3})
	assert.True(t, errors.Is(err, lead.ErrEmptyFilters))

	for _, m := range []float64{1, 0.5, -2} {
		_, err = fill.New(&stubSource{}, &stubEnricher{}, validate.Policy{}, fill.Options{Multiplier: m})
		assert.True(t, errors.Is(err, fill.ErrInvalidMultiplier), "multiplier %g", m)
	}

	_, err = fill.New(nil, &stubEnricher{}, validate.Policy{}, fill.Options{})
	assert.ErrorIs(t, err, fill.ErrNilCollaborator)
	_, err = fill.New(&stubSource{}, nil, validate.Policy{}, fill.Options{})
	assert.ErrorIs(t, err, fill.ErrNilCollaborator)
}

func TestFulfill_PropagatesUpstreamErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name string
		src  *stubSource
		enr  *stubEnricher
		p    validate.Policy
	}{
		{name: "submit", src: &stubSource{submitErr: boom}, enr: &stubEnricher{}},
		{name: "await", src: &stubSource{awaitErr: boom}, enr: &stubEnricher{}},
		{name: "fetch", src: &stubSource{fetchErr: boom}, enr: &stubEnricher{}},
		{name: "enrich", src: &stubSource{events: candidates("a")}, enr: &stubEnricher{err: boom}},
		{
			name: "validator",
			src:  &stubSource{events: candidates("a")},
			enr:  &stubEnricher{},
			p: policy(t, registration{v: validate.Func{ID: "failing", Fn: func(context.Context, []lead.Record) ([]lead.Record, error) {
				return nil, boom
			}}}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, tt.src, tt.enr, tt.p, fill.Options{})
			got, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 1})
			require.Error(t, err)
			assert.True(t, errors.Is(err, boom))
			assert.Nil(t, got)
		})
	}
}

func TestFulfill_ObserverSeesBatchesAndValidators(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	enr := &stubEnricher{unresolvable: map[string]bool{"b": true}}
	p := policy(t, registration{v: reject("req")})
	e := newEngine(t, &stubSource{events: candidates("a", "b", "c")}, enr, p, fill.Options{Observer: obs})

	_, err := e.Fulfill(context.Background(), lead.Request{Filters: testFilters, Target: 3})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{3, 2}}, obs.batches)
	assert.Equal(t, []string{"req"}, obs.validated)
	assert.Equal(t, []validate.Tier{0}, obs.tiers)
}

func TestCheck(t *testing.T) {
	t.Parallel()

	src := &stubSource{events: []lead.Candidate{{Key: "a"}, {Key: "b"}, {Key: "a"}}}
	enr := &stubEnricher{}
	e := newEngine(t, src, enr, validate.Policy{}, fill.Options{})

	got, err := e.Check(context.Background(), testFilters, 1000)
	require.NoError(t, err)
	assert.Equal(t, fill.Availability{Total: 3, Unique: 2}, got)
	assert.Equal(t, []int{1000}, src.submits)
	assert.Empty(t, enr.calls)

	_, err = e.Check(context.Background(), testFilters, 0)
	assert.True(t, errors.Is(err, fill.ErrInvalidTarget))
}

func TestProcess_SinglePassWithEveryValidator(t *testing.T) {
	t.Parallel()

	enr := &stubEnricher{}
	p := policy(t,
		registration{v: reject("req", "a")},
		registration{v: reject("fb", "c"), tier: 3},
	)
	e := newEngine(t, &stubSource{events: candidates("a", "b", "c", "d", "b")}, enr, p, fill.Options{})

	got, err := e.Process(context.Background(), testFilters, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, lead.Keys(got))
	assert.Equal(t, [][]string{{"a", "b", "c", "d"}}, enr.calls)
}
