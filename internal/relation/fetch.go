package relation

import (
	"context"
	"errors"
	"fmt"
)

// MaxPageSize is the largest page the remote service returns per request.
const MaxPageSize = 1000

type PageRequest struct {
	Identifier   string
	From         int64
	To           int64
	Limit        int
	Continuation string
}

// Page is one batch of records in ascending received-time order. An empty
// Next means the service has no more data for the request.
type Page struct {
	Records []Record
	Next    string
}

type PageFetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (Page, error)
}

// Connector authenticates against the endpoint serving a coverage and returns
// a fetcher bound to that session.
type Connector interface {
	Connect(ctx context.Context, coverage Coverage) (PageFetcher, error)
}

// FetchStats describes a completed fetch. Truncated is set when the record
// limit cut the result short of what the service still had to offer.
type FetchStats struct {
	Pages     int
	Records   int
	Truncated bool
}

// FetchAll pages through the service until params.Limit records are collected
// or the service signals the end. A page longer than the remaining budget is
// truncated. A repeated continuation token is reported as ErrTransport rather
// than followed.
func FetchAll(ctx context.Context, fetcher PageFetcher, params Parameters) ([]Record, FetchStats, error) {
	var stats FetchStats
	if fetcher == nil {
		return nil, stats, fmt.Errorf("page fetcher is required")
	}

	records := make([]Record, 0, params.Limit())
	continuation := ""
	seen := map[string]struct{}{}
	for len(records) < params.Limit() {
		if err := ctx.Err(); err != nil {
			return nil, stats, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		remaining := params.Limit() - len(records)
		page, err := fetcher.FetchPage(ctx, PageRequest{
			Identifier:   params.Identifier(),
			From:         params.From(),
			To:           params.To(),
			Limit:        min(remaining, MaxPageSize),
			Continuation: continuation,
		})
		if err != nil {
			if !errors.Is(err, ErrAuthentication) && !errors.Is(err, ErrTransport) {
				err = fmt.Errorf("%w: %w", ErrTransport, err)
			}
			return nil, stats, fmt.Errorf("fetch page %d: %w", stats.Pages+1, err)
		}
		stats.Pages++

		batch := page.Records
		if len(batch) > remaining {
			batch = batch[:remaining]
			stats.Truncated = true
		}
		records = append(records, batch...)
		stats.Records = len(records)

		if page.Next == "" {
			break
		}
		if len(records) >= params.Limit() {
			stats.Truncated = true
			break
		}
		if _, stalled := seen[page.Next]; stalled {
			return nil, stats, fmt.Errorf("%w: continuation token %q did not advance", ErrTransport, page.Next)
		}
		seen[page.Next] = struct{}{}
		continuation = page.Next
	}
	return records, stats, nil
}
