package relation

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fixtureFetcher serves records in pages of at most pageSize, using the
// offset of the next record as the continuation token.
type fixtureFetcher struct {
	mu       sync.Mutex
	records  []Record
	pageSize int
	requests []PageRequest
}

func (f *fixtureFetcher) FetchPage(_ context.Context, req PageRequest) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	start := 0
	if req.Continuation != "" {
		offset, err := strconv.Atoi(req.Continuation)
		if err != nil {
			return Page{}, err
		}
		start = offset
	}
	page := Page{}
	i := start
	for ; i < len(f.records) && len(page.Records) < min(req.Limit, f.pageSize); i++ {
		record := f.records[i]
		if record.ReceivedAt >= req.From && record.ReceivedAt <= req.To {
			page.Records = append(page.Records, record)
		}
	}
	if i < len(f.records) {
		page.Next = strconv.Itoa(i)
	}
	return page, nil
}

type fixtureConnector struct {
	fetcher PageFetcher
	err     error
	calls   int
}

func (c *fixtureConnector) Connect(context.Context, Coverage) (PageFetcher, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.fetcher, nil
}

func records(timestamps ...int64) []Record {
	out := make([]Record, 0, len(timestamps))
	for _, ts := range timestamps {
		out = append(out, Record{ReceivedAt: ts, ContentType: "application/json", Payload: `{"t":` + strconv.FormatInt(ts, 10) + `}`})
	}
	return out
}

func mustParams(t *testing.T, args ...string) Parameters {
	t.Helper()
	params, err := ParseArguments(args, fixedNow)
	require.NoError(t, err)
	return params
}

func TestFetchAllFollowsContinuation(t *testing.T) {
	fetcher := &fixtureFetcher{records: records(1, 2, 3, 4, 5, 6, 7), pageSize: 3}
	got, stats, err := FetchAll(context.Background(), fetcher, mustParams(t, "IMSI 'x'", "FROM '0'", "TO '100'", "LIMIT '100'"))
	require.NoError(t, err)
	require.Len(t, got, 7)
	require.Equal(t, FetchStats{Pages: 3, Records: 7}, stats)
	for i, record := range got {
		require.Equal(t, int64(i+1), record.ReceivedAt)
	}
	require.Equal(t, "", fetcher.requests[0].Continuation)
	require.Equal(t, "3", fetcher.requests[1].Continuation)
	require.Equal(t, "6", fetcher.requests[2].Continuation)
}

func TestFetchAllStopsAtLimitMidPage(t *testing.T) {
	fetcher := &fixtureFetcher{records: records(1, 2, 3, 4, 5, 6, 7), pageSize: 3}
	got, stats, err := FetchAll(context.Background(), fetcher, mustParams(t, "IMSI 'x'", "FROM '0'", "TO '100'", "LIMIT '4'"))
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.Equal(t, 2, stats.Pages)
	require.True(t, stats.Truncated)
	require.Equal(t, 1, fetcher.requests[1].Limit)
}

func TestFetchAllTruncatesOversizedPage(t *testing.T) {
	fetcher := pageFunc(func(_ context.Context, req PageRequest) (Page, error) {
		return Page{Records: records(1, 2, 3, 4, 5), Next: "more"}, nil
	})
	got, stats, err := FetchAll(context.Background(), fetcher, mustParams(t, "IMSI 'x'", "FROM '0'", "TO '100'", "LIMIT '2'"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 1, stats.Pages)
	require.True(t, stats.Truncated)
}

func TestFetchAllLimitOne(t *testing.T) {
	fetcher := &fixtureFetcher{records: records(10, 20), pageSize: 100}
	got, stats, err := FetchAll(context.Background(), fetcher, mustParams(t, "IMSI 'x'", "FROM '0'", "TO '100'", "LIMIT '1'"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(10), got[0].ReceivedAt)
	require.True(t, stats.Truncated)

	empty := &fixtureFetcher{pageSize: 100}
	got, stats, err = FetchAll(context.Background(), empty, mustParams(t, "IMSI 'x'", "FROM '0'", "TO '100'", "LIMIT '1'"))
	require.NoError(t, err)
	require.Empty(t, got)
	require.False(t, stats.Truncated)
}

func TestFetchAllExactLimitAtEndIsNotTruncated(t *testing.T) {
	fetcher := &fixtureFetcher{records: records(1, 2, 3, 4), pageSize: 2}
	got, stats, err := FetchAll(context.Background(), fetcher, mustParams(t, "IMSI 'x'", "FROM '0'", "TO '100'", "LIMIT '4'"))
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.Equal(t, FetchStats{Pages: 2, Records: 4}, stats)
}

func TestFetchAllCapsPageRequestSize(t *testing.T) {
	fetcher := &fixtureFetcher{pageSize: MaxPageSize}
	_, _, err := FetchAll(context.Background(), fetcher, mustParams(t, "IMSI 'x'", "LIMIT '1000'"))
	require.NoError(t, err)
	require.Equal(t, MaxPageSize, fetcher.requests[0].Limit)
}

func TestFetchAllDetectsStalledContinuation(t *testing.T) {
	fetcher := pageFunc(func(_ context.Context, req PageRequest) (Page, error) {
		return Page{Records: records(1), Next: "same"}, nil
	})
	_, _, err := FetchAll(context.Background(), fetcher, mustParams(t, "IMSI 'x'", "FROM '0'", "TO '100'", "LIMIT '50'"))
	require.ErrorIs(t, err, ErrTransport)
	require.Contains(t, err.Error(), "did not advance")
}

func TestFetchAllClassifiesErrors(t *testing.T) {
	params := mustParams(t, "IMSI 'x'")

	plain := pageFunc(func(context.Context, PageRequest) (Page, error) {
		return Page{}, errors.New("connection reset")
	})
	_, _, err := FetchAll(context.Background(), plain, params)
	require.ErrorIs(t, err, ErrTransport)

	auth := pageFunc(func(context.Context, PageRequest) (Page, error) {
		return Page{}, ErrAuthentication
	})
	_, _, err = FetchAll(context.Background(), auth, params)
	require.ErrorIs(t, err, ErrAuthentication)
	require.NotErrorIs(t, err, ErrTransport)
}

func TestFetchAllHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := &fixtureFetcher{records: records(1), pageSize: 10}
	_, _, err := FetchAll(ctx, fetcher, mustParams(t, "IMSI 'x'"))
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, fetcher.requests)
}

type pageFunc func(ctx context.Context, req PageRequest) (Page, error)

func (f pageFunc) FetchPage(ctx context.Context, req PageRequest) (Page, error) {
	return f(ctx, req)
}
