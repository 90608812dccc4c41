package bigdbm

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/Standard-Labs/real-intent/pkg/lead"
	"github.com/Standard-Labs/real-intent/pkg/lead/fill"
)

var (
	_ fill.IntentSource = (*Client)(nil)
	_ fill.Enricher     = (*Client)(nil)
)

// Submit creates an intent list for filters capped at desired identifiers.
func (c *Client) Submit(ctx context.Context, filters lead.Filters, desired int) (lead.JobID, error) {
	id, err := c.CreateList(ctx, IntentJob{
		IntentCategories: filters.IntentCategories,
		Zips:             filters.Zips,
		Keywords:         filters.Keywords,
		Domains:          filters.Domains,
		NumberOfHems:     desired,
	})
	if err != nil {
		return "", err
	}
	return lead.JobID(strconv.Itoa(id)), nil
}

// Await blocks until the list behind id completes.
func (c *Client) Await(ctx context.Context, id lead.JobID) error {
	n, err := parseJobID(id)
	if err != nil {
		return err
	}
	return c.WaitUntilComplete(ctx, n)
}

// Fetch returns one candidate per intent event of a completed list.
func (c *Client) Fetch(ctx context.Context, id lead.JobID) ([]lead.Candidate, error) {
	n, err := parseJobID(id)
	if err != nil {
		return nil, err
	}
	events, err := c.Results(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]lead.Candidate, 0, len(events))
	for _, ev := range events {
		if ev.MD5 == "" {
			continue
		}
		cand := lead.Candidate{Key: ev.MD5}
		if ev.Sentence != "" {
			cand.Signals = []string{ev.Sentence}
		}
		out = append(out, cand)
	}
	return out, nil
}

// Enrich looks up contacts for candidates in one request. Records come back
// in candidate order; candidates without a data row are omitted.
func (c *Client) Enrich(ctx context.Context, candidates []lead.Candidate) ([]lead.Record, error) {
	keys := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		keys = append(keys, cand.Key)
	}
	contacts, err := c.Contacts(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make([]lead.Record, 0, len(contacts))
	for _, cand := range candidates {
		contact, ok := contacts[cand.Key]
		if !ok {
			continue
		}
		out = append(out, lead.Record{Key: cand.Key, Contact: contact, Signals: cand.Signals})
	}
	return out, nil
}

func parseJobID(id lead.JobID) (int, error) {
	n, err := strconv.Atoi(string(id))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid list queue id %q", id)
	}
	return n, nil
}
