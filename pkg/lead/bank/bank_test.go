package bank_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Standard-Labs/real-intent/pkg/lead"
	"github.com/Standard-Labs/real-intent/pkg/lead/bank"
)

func TestNew_DedupesPreservingFirstSeenOrder(t *testing.T) {
	t.Parallel()

	b := bank.New([]lead.Candidate{
		{Key: "b", Signals: []string{"s1"}},
		{Key: "a", Signals: []string{"s1"}},
		{Key: "b", Signals: []string{"s2", "s1"}},
		{Key: "c"},
		{Key: "a", Signals: []string{"s3"}},
	})

	require.Equal(t, 3, b.Len())
	got := b.Take(10)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{got[0].Key, got[1].Key, got[2].Key})
	assert.Equal(t, []string{"s1", "s2", "s1"}, got[0].Signals)
	assert.Equal(t, []string{"s1", "s3"}, got[1].Signals)
	assert.Empty(t, got[2].Signals)
}

func TestNew_KeepsRepeatedSignalsForEventCounts(t *testing.T) {
	t.Parallel()

	b := bank.New([]lead.Candidate{
		{Key: "k", Signals: []string{"Real Estate>Buying"}},
		{Key: "k", Signals: []string{"Real Estate>Buying"}},
		{Key: "k", Signals: []string{"Real Estate>Buying"}},
	})

	got := b.Take(1)
	require.Len(t, got, 1)
	rec := lead.Record{Key: got[0].Key, Signals: got[0].Signals}
	assert.Len(t, rec.Signals, 3)
	assert.Equal(t, []string{"Real Estate>Buying"}, rec.UniqueSignals())
}

func TestTake(t *testing.T) {
	t.Parallel()

	b := bank.New([]lead.Candidate{{Key: "k1"}, {Key: "k2"}, {Key: "k3"}})

	assert.Nil(t, b.Take(0))
	assert.Nil(t, b.Take(-1))

	first := b.Take(2)
	require.Len(t, first, 2)
	assert.Equal(t, "k1", first[0].Key)
	assert.Equal(t, "k2", first[1].Key)
	assert.False(t, b.Empty())

	rest := b.Take(5)
	require.Len(t, rest, 1)
	assert.Equal(t, "k3", rest[0].Key)
	assert.True(t, b.Empty())

	assert.Empty(t, b.Take(1))
	assert.Equal(t, 0, b.Len())
}

func TestTake_NeverRepeatsAKey(t *testing.T) {
	t.Parallel()

	var in []lead.Candidate
	for _, k := range []string{"a", "b", "a", "c", "d", "b", "e"} {
		in = append(in, lead.Candidate{Key: k})
	}
	b := bank.New(in)

	seen := map[string]bool{}
	for !b.Empty() {
		before := b.Len()
		for _, c := range b.Take(2) {
			assert.False(t, seen[c.Key], "key %q returned twice", c.Key)
			seen[c.Key] = true
		}
		assert.Less(t, b.Len(), before)
	}
	assert.Len(t, seen, 5)
}

func TestTake_ResultIsDetachedFromBank(t *testing.T) {
	t.Parallel()

	b := bank.New([]lead.Candidate{{Key: "k1"}, {Key: "k2"}})
	got := b.Take(1)
	got[0].Key = "mutated"

	rest := b.Take(1)
	require.Len(t, rest, 1)
	assert.Equal(t, "k2", rest[0].Key)
}

func TestNew_Empty(t *testing.T) {
	t.Parallel()

	b := bank.New(nil)
	assert.True(t, b.Empty())
	assert.Empty(t, b.Take(3))
}
