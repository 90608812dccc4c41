package bigdbm

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// StatusComplete is the list status of a finished list. Higher values
	// are failures, lower ones are still processing.
	StatusComplete = 100
)

// ErrListFailed is returned when a list finishes with an error status.
var ErrListFailed = errors.New("bigdbm list failed")

// ConfigDates is the date window intent lists are built over.
type ConfigDates struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// IntentJob selects intent for one list.
type IntentJob struct {
	IntentCategories []string
	Zips             []string
	Keywords         []string
	Domains          []string
	// NumberOfHems caps the distinct identifiers in the list.
	NumberOfHems int
}

type createListRequest struct {
	StartDate    string `json:"StartDate"`
	EndDate      string `json:"EndDate"`
	IABs         string `json:"IABs"`
	Zips         string `json:"Zips"`
	Keywords     string `json:"Keywords"`
	Domains      string `json:"Domains"`
	NumberOfHems int    `json:"NumberOfHems"`
}

// IntentEvent is one raw intent hit: a hashed email and the topic that
// produced it. Identifiers repeat across events.
type IntentEvent struct {
	MD5      string `json:"mD5"`
	Sentence string `json:"sentence"`
}

type resultPage struct {
	TotalCount int           `json:"totalCount"`
	Result     []IntentEvent `json:"result"`
}

// ConfigDates fetches the current intent date window.
func (c *Client) ConfigDates(ctx context.Context) (ConfigDates, error) {
	var out ConfigDates
	if err := c.do(ctx, "configData", http.MethodGet, resolve(c.intentURL, "intent/configData"), nil, &out); err != nil {
		return ConfigDates{}, err
	}
	return out, nil
}

// CreateList starts an intent list over the current date window and
// returns its queue id. It does not wait for processing.
func (c *Client) CreateList(ctx context.Context, job IntentJob) (int, error) {
	if job.NumberOfHems < 1 {
		return 0, errors.Newf("number of hems must be >= 1 (got %d)", job.NumberOfHems)
	}
	dates, err := c.ConfigDates(ctx)
	if err != nil {
		return 0, err
	}
	req := createListRequest{
		StartDate:    dates.StartDate,
		EndDate:      dates.EndDate,
		IABs:         strings.Join(job.IntentCategories, ","),
		Zips:         strings.Join(job.Zips, ","),
		Keywords:     strings.Join(job.Keywords, ","),
		Domains:      strings.Join(job.Domains, ","),
		NumberOfHems: job.NumberOfHems,
	}
	var out struct {
		ListQueueID int `json:"listQueueId"`
	}
	if err := c.do(ctx, "createList", http.MethodPost, resolve(c.intentURL, "intent/createList"), req, &out); err != nil {
		return 0, err
	}
	c.log.Debug("created intent list",
		zap.Int("list_queue_id", out.ListQueueID),
		zap.Int("number_of_hems", job.NumberOfHems),
		zap.String("start_date", dates.StartDate),
		zap.String("end_date", dates.EndDate),
	)
	return out.ListQueueID, nil
}

// ListStatus returns the processing status of a list.
func (c *Client) ListStatus(ctx context.Context, listQueueID int) (int, error) {
	u := resolve(c.intentURL, "intent/checkList")
	u.RawQuery = url.Values{"listQueueId": []string{strconv.Itoa(listQueueID)}}.Encode()
	var out struct {
		Status int `json:"status"`
	}
	if err := c.do(ctx, "checkList", http.MethodGet, u, nil, &out); err != nil {
		return 0, err
	}
	return out.Status, nil
}

// WaitUntilComplete polls the list until it completes or fails.
func (c *Client) WaitUntilComplete(ctx context.Context, listQueueID int) error {
	for {
		status, err := c.ListStatus(ctx, listQueueID)
		if err != nil {
			return err
		}
		if status == StatusComplete {
			return nil
		}
		if status > StatusComplete {
			return errors.Wrapf(ErrListFailed, "list %d status %d", listQueueID, status)
		}

		t := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

func (c *Client) resultPage(ctx context.Context, listQueueID, page int) (resultPage, error) {
	body := map[string]int{"ListQueueId": listQueueID, "Page": page}
	var out resultPage
	if err := c.do(ctx, "result", http.MethodPost, resolve(c.intentURL, "intent/result"), body, &out); err != nil {
		return resultPage{}, errors.Wrapf(err, "page %d", page)
	}
	return out, nil
}

// Results returns every event of a completed list in page order. The first
// page reports the page count; the rest are fetched concurrently.
func (c *Client) Results(ctx context.Context, listQueueID int) ([]IntentEvent, error) {
	first, err := c.resultPage(ctx, listQueueID, 1)
	if err != nil {
		return nil, err
	}
	pages := make([][]IntentEvent, max(first.TotalCount, 1))
	pages[0] = first.Result

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.PageWorkers)
	for p := 2; p <= first.TotalCount; p++ {
		g.Go(func() error {
			page, err := c.resultPage(gctx, listQueueID, p)
			if err != nil {
				return err
			}
			pages[p-1] = page.Result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []IntentEvent
	for _, p := range pages {
		out = append(out, p...)
	}
	c.log.Debug("retrieved intent events",
		zap.Int("list_queue_id", listQueueID),
		zap.Int("pages", len(pages)),
		zap.Int("events", len(out)),
	)
	return out, nil
}
