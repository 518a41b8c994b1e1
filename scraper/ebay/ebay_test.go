package ebay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebay-harvester/models"
	"ebay-harvester/services"
	"ebay-harvester/storage"
	"ebay-harvester/utils"
)

type fetchCall struct {
	page  int
	proxy string
}

// fakeFetcher serves pages of generated cards. sizes[i] is the card count
// of page i+1; pages past the end are empty.
type fakeFetcher struct {
	sizes   []int
	failOn  map[int]error
	badProx map[string]bool
	calls   []fetchCall
	onFetch func(page int)
}

func (f *fakeFetcher) FetchPage(_ context.Context, _ string, page int, proxy string) ([]map[string]any, error) {
	f.calls = append(f.calls, fetchCall{page: page, proxy: proxy})
	if f.onFetch != nil {
		f.onFetch(page)
	}
	if f.badProx[proxy] {
		return nil, &FetchError{Page: page, Proxy: proxy, StatusCode: 407, Err: errBadStatus}
	}
	if err := f.failOn[page]; err != nil {
		return nil, &FetchError{Page: page, Proxy: proxy, Timeout: errors.Is(err, context.DeadlineExceeded), Err: err}
	}
	if page > len(f.sizes) {
		return nil, nil
	}
	cards := make([]map[string]any, f.sizes[page-1])
	for i := range cards {
		cards[i] = map[string]any{
			"listingId": fmt.Sprintf("%d-%03d", page, i),
			"__search": map[string]any{"sellerInfo": map[string]any{"text": map[string]any{
				"textSpans": []any{map[string]any{"text": "acme_parts 99% positive"}},
			}}},
			"title": map[string]any{"textSpans": []any{map[string]any{"text": "Part"}}},
		}
	}
	return cards, nil
}

type countingIngestor struct {
	next   BatchIngestor
	calls  int
	sizes  []int
	failOn map[int]bool
}

func (c *countingIngestor) Ingest(ctx context.Context, batch []models.Listing) error {
	c.calls++
	c.sizes = append(c.sizes, len(batch))
	if c.failOn[c.calls] {
		return &storage.StorageError{Op: "upsert products", Err: errors.New("connection reset")}
	}
	return c.next.Ingest(ctx, batch)
}

type harness struct {
	fetcher  *fakeFetcher
	ingestor *countingIngestor
	store    *storage.MemoryStore
	h        *Harvester
}

func newHarness(f *fakeFetcher, opts Options) *harness {
	logger := utils.NewLoggerTo(io.Discard, utils.LevelDebug)
	store := storage.NewMemoryStore()
	ing := &countingIngestor{next: services.NewIngestor(store, logger, time.Second), failOn: map[int]bool{}}

	if opts.Seed == 0 {
		opts.Seed = 7
	}
	h := New(f, services.NewNormalizer(logger), ing, logger, opts)
	h.sleep = func(context.Context, time.Duration) error { return nil }
	return &harness{fetcher: f, ingestor: ing, store: store, h: h}
}

func TestRunTwoPagesEndToEnd(t *testing.T) {
	hs := newHarness(&fakeFetcher{sizes: []int{200, 80}}, Options{})

	sum := hs.h.Run(context.Background(), "https://www.ebay.com/str/acme")

	assert.Equal(t, models.RunDone, sum.State)
	assert.Equal(t, 280, sum.TotalItems)
	assert.Equal(t, 280, sum.IngestedItems)
	assert.Equal(t, 6, sum.Batches)
	assert.Zero(t, sum.FailedBatches)
	assert.Empty(t, sum.Err)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, []int{50, 50, 50, 50, 50, 30}, hs.ingestor.sizes)

	require.Len(t, sum.Pages, 2)
	assert.Equal(t, 200, sum.Pages[0].Cards)
	assert.Equal(t, 80, sum.Pages[1].Cards)
	assert.Len(t, sum.PageDurations(), 2)

	assert.Equal(t, []fetchCall{{1, ""}, {2, ""}}, hs.fetcher.calls, "a short page ends the run")
	assert.Len(t, hs.store.Sellers(), 1)
	assert.Len(t, hs.store.Products(), 280)
	assert.Len(t, hs.store.DailyLogs(), 280)
}

func TestRunIsIdempotent(t *testing.T) {
	hs := newHarness(&fakeFetcher{sizes: []int{200, 80}}, Options{})

	hs.h.Run(context.Background(), "https://www.ebay.com/str/acme")
	sum := hs.h.Run(context.Background(), "https://www.ebay.com/str/acme")

	assert.Equal(t, models.RunDone, sum.State)
	assert.Len(t, hs.store.Products(), 280)
	assert.Len(t, hs.store.DailyLogs(), 280)
}

func TestRunEmptyFirstPage(t *testing.T) {
	hs := newHarness(&fakeFetcher{}, Options{})

	sum := hs.h.Run(context.Background(), "https://www.ebay.com/str/empty")

	assert.Equal(t, models.RunDone, sum.State)
	assert.Zero(t, sum.TotalItems)
	assert.Zero(t, sum.Batches)
	assert.Empty(t, sum.Pages)
	assert.Zero(t, hs.ingestor.calls)
}

func TestRunFullPagesStopAtEmptyPage(t *testing.T) {
	hs := newHarness(&fakeFetcher{sizes: []int{200, 200}}, Options{})

	sum := hs.h.Run(context.Background(), "https://www.ebay.com/str/acme")

	assert.Equal(t, models.RunDone, sum.State)
	assert.Equal(t, 400, sum.TotalItems)
	assert.Len(t, hs.fetcher.calls, 3)
	assert.Len(t, sum.Pages, 2)
}

func TestRunFetchFailureKeepsCommittedBatches(t *testing.T) {
	hs := newHarness(&fakeFetcher{
		sizes:  []int{200, 200, 200},
		failOn: map[int]error{2: errors.New("connection refused")},
	}, Options{})

	sum := hs.h.Run(context.Background(), "https://www.ebay.com/str/acme")

	assert.Equal(t, models.RunFailed, sum.State)
	assert.Contains(t, sum.Err, "fetch page 2")
	assert.Equal(t, 200, sum.TotalItems)
	assert.Equal(t, 4, sum.Batches)
	assert.Len(t, hs.store.Products(), 200, "batches committed before the failure stay committed")
}

func TestRunBatchFailureContinues(t *testing.T) {
	hs := newHarness(&fakeFetcher{sizes: []int{200, 80}}, Options{})
	hs.ingestor.failOn[2] = true

	sum := hs.h.Run(context.Background(), "https://www.ebay.com/str/acme")

	assert.Equal(t, models.RunDone, sum.State)
	assert.Equal(t, 280, sum.TotalItems)
	assert.Equal(t, 230, sum.IngestedItems)
	assert.Equal(t, 6, sum.Batches)
	assert.Equal(t, 1, sum.FailedBatches)
	assert.Len(t, hs.store.Products(), 230)
}

func TestRunProxyValidated(t *testing.T) {
	px := "http://10.0.0.1:8080"
	hs := newHarness(&fakeFetcher{sizes: []int{200, 10}}, Options{Proxies: []string{px}})

	sum := hs.h.Run(context.Background(), "https://www.ebay.com/str/acme")

	assert.Equal(t, models.RunDone, sum.State)
	assert.Equal(t, []fetchCall{{1, px}, {2, px}}, hs.fetcher.calls)
	assert.Equal(t, px, sum.Pages[0].Proxy)
	assert.Zero(t, sum.ProxyFailures)
}

func TestRunProxyProbeFailureFallsBackDirect(t *testing.T) {
	px := "http://10.0.0.1:8080"
	hs := newHarness(&fakeFetcher{
		sizes:   []int{200, 10},
		badProx: map[string]bool{px: true},
	}, Options{Proxies: []string{px}})

	sum := hs.h.Run(context.Background(), "https://www.ebay.com/str/acme")

	assert.Equal(t, models.RunDone, sum.State)
	assert.Equal(t, 1, sum.ProxyFailures)
	assert.Equal(t, []fetchCall{{1, px}, {1, ""}, {2, ""}}, hs.fetcher.calls)
	assert.Equal(t, 210, sum.TotalItems)
}

func TestRunProxyFailureMidRunDemotes(t *testing.T) {
	px := "http://10.0.0.1:8080"
	f := &fakeFetcher{sizes: []int{200, 200, 10}, badProx: map[string]bool{}}
	f.onFetch = func(page int) {
		if page == 2 {
			f.badProx[px] = true
		}
	}
	hs := newHarness(f, Options{Proxies: []string{px}, RotateEvery: 200})

	sum := hs.h.Run(context.Background(), "https://www.ebay.com/str/acme")

	assert.Equal(t, models.RunDone, sum.State)
	assert.Equal(t, 1, sum.ProxyFailures)
	assert.Equal(t, []fetchCall{{1, px}, {2, px}, {2, ""}, {3, ""}}, f.calls,
		"a demoted proxy is not picked again at the next checkpoint")
}

func TestRunRotatesAtCheckpoint(t *testing.T) {
	p1, p2 := "http://10.0.0.1:8080", "http://10.0.0.2:8080"
	hs := newHarness(&fakeFetcher{sizes: []int{50, 50, 50}}, Options{
		PageSize:    50,
		RotateEvery: 100,
		Proxies:     []string{p1, p2},
	})

	sum := hs.h.Run(context.Background(), "https://www.ebay.com/str/acme")

	require.Equal(t, models.RunDone, sum.State)
	calls := hs.fetcher.calls
	require.Len(t, calls, 4)
	assert.NotEmpty(t, calls[0].proxy)
	assert.Equal(t, calls[0].proxy, calls[1].proxy)
	assert.NotEqual(t, calls[1].proxy, calls[2].proxy, "checkpoint after 100 items switches proxy")
	assert.NotEmpty(t, calls[2].proxy)
	assert.Equal(t, calls[2].proxy, calls[3].proxy)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeFetcher{sizes: []int{200, 200, 200}}
	f.onFetch = func(page int) {
		if page == 1 {
			cancel()
		}
	}
	hs := newHarness(f, Options{})

	sum := hs.h.Run(ctx, "https://www.ebay.com/str/acme")

	assert.Equal(t, models.RunFailed, sum.State)
	assert.Equal(t, context.Canceled.Error(), sum.Err)
	assert.Len(t, f.calls, 1)
}

func TestRunSleepsBetweenPages(t *testing.T) {
	hs := newHarness(&fakeFetcher{sizes: []int{200, 200, 5}}, Options{
		MinDelay: 400 * time.Millisecond,
		MaxDelay: 800 * time.Millisecond,
	})
	var delays []time.Duration
	hs.h.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	hs.h.Run(context.Background(), "https://www.ebay.com/str/acme")

	require.Len(t, delays, 2)
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, 400*time.Millisecond)
		assert.Less(t, d, 800*time.Millisecond)
	}
}

type timeoutIngestor struct{}

func (timeoutIngestor) Ingest(context.Context, []models.Listing) error {
	return &storage.StorageError{Op: "upsert daily_logs", Code: storage.QueryCanceled, Timeout: true,
		Err: errors.New("canceling statement due to user request")}
}

func TestRunLogsTimeoutsDistinctly(t *testing.T) {
	var buf bytes.Buffer
	logger := utils.NewLoggerTo(&buf, utils.LevelInfo)
	f := &fakeFetcher{
		sizes:  []int{200, 200},
		failOn: map[int]error{2: context.DeadlineExceeded},
	}
	h := New(f, services.NewNormalizer(logger), timeoutIngestor{}, logger, Options{Seed: 1})
	h.sleep = func(context.Context, time.Duration) error { return nil }

	sum := h.Run(context.Background(), "https://www.ebay.com/str/acme")

	assert.Equal(t, models.RunFailed, sum.State)
	assert.Equal(t, 4, sum.FailedBatches)
	assert.Contains(t, buf.String(), "Batch of 50 items timed out")
	assert.Contains(t, buf.String(), "fetch timed out")
}
