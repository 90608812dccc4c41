package fill

import (
	"context"

	"github.com/Standard-Labs/real-intent/pkg/lead"
	"github.com/Standard-Labs/real-intent/pkg/lead/bank"
	"github.com/Standard-Labs/real-intent/pkg/lead/validate"
)

// IntentSource runs asynchronous intent jobs upstream.
type IntentSource interface {
	// Submit starts a job asking for up to desired identifiers.
	Submit(ctx context.Context, filters lead.Filters, desired int) (lead.JobID, error)
	// Await blocks until the job finishes or fails.
	Await(ctx context.Context, id lead.JobID) error
	// Fetch returns the job's raw intent events, one candidate per event.
	// Keys may repeat.
	Fetch(ctx context.Context, id lead.JobID) ([]lead.Candidate, error)
}

// Enricher attaches contact data to candidates. One call is one external
// request. It may return fewer records than candidates when some keys
// cannot be resolved.
type Enricher interface {
	Enrich(ctx context.Context, candidates []lead.Candidate) ([]lead.Record, error)
}

// Bank is the identifier queue one fill pass draws from.
type Bank interface {
	Take(n int) []lead.Candidate
	Empty() bool
}

// BankFactory builds the bank for one tier.
type BankFactory func(candidates []lead.Candidate) Bank

// DefaultBankFactory builds a deduplicating FIFO bank.
func DefaultBankFactory(candidates []lead.Candidate) Bank {
	return bank.New(candidates)
}

// Observer receives progress events from a fulfillment run. Calls are made
// synchronously from the goroutine running the request. TierFinished
// reports the records accepted during that tier only.
type Observer interface {
	TierStarted(tier validate.Tier, deficit int)
	BatchEnriched(requested, returned int)
	ValidatorApplied(name string, in, out int)
	TierFinished(tier validate.Tier, accepted int)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) TierStarted(validate.Tier, int) {}
func (NopObserver) BatchEnriched(int, int) {}
func (NopObserver) ValidatorApplied(string, int, int) {}
func (NopObserver) TierFinished(validate.Tier, int) {}
