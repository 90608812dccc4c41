package validators_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Standard-Labs/real-intent/internal/validators"
	"github.com/Standard-Labs/real-intent/pkg/lead"
)

func suppressionRecords() []lead.Record {
	return []lead.Record{
		rec("a", func(c *lead.Contact) { c.Emails = []string{"ok@example.com", "Blocked@Example.com"} }),
		rec("b", func(c *lead.Contact) { c.Emails = []string{"ok@example.com"} }),
		rec("c", nil),
	}
}

func TestDoNotSell_MemoryList(t *testing.T) {
	t.Parallel()

	list := validators.NewMemorySuppressionList("blocked@example.com")
	got := apply(t, validators.DoNotSell(list), suppressionRecords()...)
	assert.Equal(t, []string{"b", "c"}, lead.Keys(got))
}

type shortList struct{}

func (shortList) Contains(context.Context, []string) ([]bool, error) { return []bool{false}, nil }

func TestDoNotSell_RejectsMismatchedAnswers(t *testing.T) {
	t.Parallel()

	_, err := validators.DoNotSell(shortList{}).Validate(context.Background(), suppressionRecords())
	require.Error(t, err)
}

func TestDoNotSell_RedisList(t *testing.T) {
	url := os.Getenv("LEADFILL_TEST_REDIS_URL")
	if url == "" {
		t.Skip("set LEADFILL_TEST_REDIS_URL to run the Redis suppression test")
	}

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	key := "leadfill:test:" + uuid.NewString()
	t.Cleanup(func() { _ = client.Del(context.Background(), key).Err() })

	list := validators.NewRedisSuppressionList(client, key)
	require.NoError(t, list.Add(ctx, "BLOCKED@example.com"))

	flags, err := list.Contains(ctx, []string{"blocked@example.com", "ok@example.com"})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, flags)

	got := apply(t, validators.DoNotSell(list), suppressionRecords()...)
	assert.Equal(t, []string{"b", "c"}, lead.Keys(got))
}
