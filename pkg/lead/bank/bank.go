// Package bank implements the identifier bank: a deduplicated FIFO of
// candidates that one fulfillment pass consumes in slices.
package bank

import (
	"github.com/Standard-Labs/real-intent/pkg/lead"
)

// Bank is not safe for concurrent use. Each fulfillment request owns its
// banks exclusively.
type Bank struct {
	queue []lead.Candidate
}

// New builds a bank from raw candidates. Duplicate keys collapse into the
// first-seen entry, which appends the duplicates' signals. Repeated signals
// are kept, one per upstream event; Record.UniqueSignals collapses them.
// Order is first-seen order; nothing is reordered.
func New(candidates []lead.Candidate) *Bank {
	index := make(map[string]int, len(candidates))
	queue := make([]lead.Candidate, 0, len(candidates))

	for _, c := range candidates {
		i, ok := index[c.Key]
		if !ok {
			i = len(queue)
			index[c.Key] = i
			queue = append(queue, lead.Candidate{Key: c.Key})
		}
		queue[i].Signals = append(queue[i].Signals, c.Signals...)
	}
	return &Bank{queue: queue}
}

// Take removes and returns up to n candidates from the front. It returns
// fewer (possibly none) once the bank runs dry.
func (b *Bank) Take(n int) []lead.Candidate {
	if n <= 0 || len(b.queue) == 0 {
		return nil
	}
	if n > len(b.queue) {
		n = len(b.queue)
	}
	out := make([]lead.Candidate, n)
	copy(out, b.queue[:n])
	b.queue = b.queue[n:]
	return out
}

// Empty reports whether every candidate has been taken.
func (b *Bank) Empty() bool {
	return len(b.queue) == 0
}

// Len is the number of candidates left.
func (b *Bank) Len() int {
	return len(b.queue)
}
