package validators

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/Standard-Labs/real-intent/pkg/lead"
	"github.com/Standard-Labs/real-intent/pkg/lead/validate"
)

// DefaultSuppressionKey is the Redis set holding do-not-sell emails.
const DefaultSuppressionKey = "leadfill:do_not_sell"

// SuppressionList answers do-not-sell membership for emails. Contains
// returns one flag per input, in order.
type SuppressionList interface {
	Contains(ctx context.Context, emails []string) ([]bool, error)
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// MemorySuppressionList is a SuppressionList held in memory. It is safe for
// concurrent use.
type MemorySuppressionList struct {
	mu     sync.RWMutex
	emails map[string]struct{}
}

func NewMemorySuppressionList(emails ...string) *MemorySuppressionList {
	l := &MemorySuppressionList{emails: make(map[string]struct{}, len(emails))}
	l.Add(emails...)
	return l
}

func (l *MemorySuppressionList) Add(emails ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range emails {
		l.emails[normalizeEmail(e)] = struct{}{}
	}
}

func (l *MemorySuppressionList) Contains(_ context.Context, emails []string) ([]bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]bool, len(emails))
	for i, e := range emails {
		_, out[i] = l.emails[normalizeEmail(e)]
	}
	return out, nil
}

// RedisSuppressionList reads do-not-sell emails from a Redis set of
// lowercased addresses.
type RedisSuppressionList struct {
	client redis.UniversalClient
	key    string
}

func NewRedisSuppressionList(client redis.UniversalClient, key string) *RedisSuppressionList {
	if strings.TrimSpace(key) == "" {
		key = DefaultSuppressionKey
	}
	return &RedisSuppressionList{client: client, key: key}
}

// Add stores emails in the set.
func (l *RedisSuppressionList) Add(ctx context.Context, emails ...string) error {
	if len(emails) == 0 {
		return nil
	}
	members := make([]any, 0, len(emails))
	for _, e := range emails {
		members = append(members, normalizeEmail(e))
	}
	if err := l.client.SAdd(ctx, l.key, members...).Err(); err != nil {
		return errors.Wrapf(err, "redis sadd %s", l.key)
	}
	return nil
}

func (l *RedisSuppressionList) Contains(ctx context.Context, emails []string) ([]bool, error) {
	if len(emails) == 0 {
		return []bool{}, nil
	}
	members := make([]any, 0, len(emails))
	for _, e := range emails {
		members = append(members, normalizeEmail(e))
	}
	out, err := l.client.SMIsMember(ctx, l.key, members...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis smismember %s", l.key)
	}
	return out, nil
}

// DoNotSell drops leads with any email on the suppression list.
func DoNotSell(list SuppressionList) validate.Validator {
	return validate.Func{
		ID: "do_not_sell",
		Fn: func(ctx context.Context, records []lead.Record) ([]lead.Record, error) {
			var emails []string
			for _, r := range records {
				emails = append(emails, r.Contact.Emails...)
			}
			if len(emails) == 0 {
				return records, nil
			}
			flags, err := list.Contains(ctx, emails)
			if err != nil {
				return nil, err
			}
			if len(flags) != len(emails) {
				return nil, errors.Newf("suppression list returned %d flags for %d emails", len(flags), len(emails))
			}

			out := make([]lead.Record, 0, len(records))
			i := 0
			for _, r := range records {
				suppressed := false
				for range r.Contact.Emails {
					suppressed = suppressed || flags[i]
					i++
				}
				if !suppressed {
					out = append(out, r)
				}
			}
			return out, nil
		},
	}
}
