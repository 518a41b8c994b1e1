// Package ebay harvests the listing pages of an eBay store.
package ebay

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"ebay-harvester/metrics"
	"ebay-harvester/models"
	"ebay-harvester/proxy"
	"ebay-harvester/storage"
	"ebay-harvester/utils"
)

// PageFetcher returns the raw cards of one page.
type PageFetcher interface {
	FetchPage(ctx context.Context, baseURL string, page int, proxy string) ([]map[string]any, error)
}

// CardNormalizer maps a raw card to a Listing. It must never fail.
type CardNormalizer interface {
	Normalize(card map[string]any) models.Listing
}

// BatchIngestor stores one chunk of listings atomically.
type BatchIngestor interface {
	Ingest(ctx context.Context, batch []models.Listing) error
}

// Options tunes a Harvester. Zero values take defaults.
type Options struct {
	PageSize    int
	BatchSize   int
	RotateEvery int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	// Proxies are the candidates every run builds its own pool from.
	Proxies []string
	Metrics *metrics.Metrics
	// Seed fixes proxy selection and jitter; 0 seeds from the clock.
	Seed int64
}

// Harvester drives the page loop of a store: fetch, normalize, ingest.
type Harvester struct {
	opts       Options
	fetcher    PageFetcher
	normalizer CardNormalizer
	ingestor   BatchIngestor
	logger     *utils.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a ready-to-use Harvester.
func New(fetcher PageFetcher, normalizer CardNormalizer, ingestor BatchIngestor, logger *utils.Logger, opts Options) *Harvester {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MinDelay < 0 {
		opts.MinDelay = 0
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	return &Harvester{
		opts:       opts,
		fetcher:    fetcher,
		normalizer: normalizer,
		ingestor:   ingestor,
		logger:     logger,
		sleep:      utils.Sleep,
	}
}

// run holds the state of one harvest. Nothing in it is shared between runs.
type run struct {
	h        *Harvester
	storeURL string
	summary  *models.RunSummary
	pool     *proxy.Pool
	session  proxy.Session
	rotation *proxy.RotationPolicy
	rnd      *rand.Rand
}

// Run harvests storeURL until a short or empty page, a fetch failure or
// cancellation. Batches committed before a failure stay committed. Run
// always returns a summary.
func (h *Harvester) Run(ctx context.Context, storeURL string) *models.RunSummary {
	seed := h.opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed))

	r := &run{
		h:        h,
		storeURL: storeURL,
		summary: &models.RunSummary{
			RunID:     uuid.NewString(),
			StoreURL:  storeURL,
			State:     models.RunStart,
			StartedAt: time.Now(),
		},
		pool:     proxy.NewPool(h.opts.Proxies, rnd),
		rotation: proxy.NewRotationPolicy(h.opts.RotateEvery),
		rnd:      rnd,
	}
	r.session = proxy.Start(r.pool.Select())

	h.logger.Info("[ebay] Run %s starting: %s | page size %d | batch %d | proxies %d | mode %s",
		r.summary.RunID, storeURL, h.opts.PageSize, h.opts.BatchSize, r.pool.Size(), r.session)

	r.loop(ctx)

	r.summary.Duration = time.Since(r.summary.StartedAt)
	h.opts.Metrics.RunFinished(string(r.summary.State))
	h.logger.Info("[ebay] Run %s %s: %d items (%d ingested) in %d pages, %d/%d batches failed, %v",
		r.summary.RunID, r.summary.State, r.summary.TotalItems, r.summary.IngestedItems,
		len(r.summary.Pages), r.summary.FailedBatches, r.summary.Batches, r.summary.Duration.Round(time.Millisecond))
	return r.summary
}

func (r *run) loop(ctx context.Context) {
	h, sum := r.h, r.summary

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			r.fail(page, err)
			return
		}

		sum.State = models.RunFetching
		pageStart := time.Now()

		cards, via, err := r.fetchPage(ctx, page)
		if err != nil {
			h.opts.Metrics.PageFetched(false)
			r.fail(page, err)
			return
		}
		h.opts.Metrics.PageFetched(true)

		if len(cards) == 0 {
			h.logger.Info("[ebay] Page %d returned 0 cards, end of results", page)
			sum.State = models.RunDone
			return
		}

		sum.State = models.RunNormalizing
		listings := make([]models.Listing, 0, len(cards))
		for _, card := range cards {
			listings = append(listings, h.normalizer.Normalize(card))
		}
		h.opts.Metrics.ItemsNormalized(len(listings))

		sum.State = models.RunBatching
		ingested := r.ingest(ctx, listings)
		sum.TotalItems += len(listings)
		sum.IngestedItems += ingested

		if r.rotation.Due(sum.IngestedItems) {
			r.checkpoint()
		}

		elapsed := time.Since(pageStart)
		sum.Pages = append(sum.Pages, models.PageStat{Page: page, Cards: len(cards), Proxy: via, Duration: elapsed})
		h.opts.Metrics.ObservePage(elapsed)
		h.logger.Info("[ebay] Page %d | %d items | %d ingested | %.2fs", page, len(listings), ingested, elapsed.Seconds())

		if len(cards) < h.opts.PageSize {
			h.logger.Info("[ebay] Page %d is short (%d < %d), last page reached", page, len(cards), h.opts.PageSize)
			sum.State = models.RunDone
			return
		}

		if err := h.sleep(ctx, r.jitter()); err != nil {
			r.fail(page+1, err)
			return
		}
	}
}

func (r *run) fail(page int, err error) {
	if IsTimeout(err) {
		r.h.logger.Error("[ebay] Run %s stopped at page %d, fetch timed out: %v", r.summary.RunID, page, err)
	} else {
		r.h.logger.Error("[ebay] Run %s stopped at page %d: %v", r.summary.RunID, page, err)
	}
	r.summary.State = models.RunFailed
	r.summary.Err = err.Error()
}

// fetchPage fetches through the session's proxy. A pending proxy is
// validated by this very fetch. Any proxy failure demotes the proxy and the
// page is fetched again direct; only a direct failure is returned.
func (r *run) fetchPage(ctx context.Context, page int) ([]map[string]any, string, error) {
	h := r.h

	switch r.session.Phase {
	case proxy.PendingRetest:
		px := r.session.Through()
		var cards []map[string]any
		var probeErr error
		ok := r.pool.Validate(ctx, px, func(ctx context.Context, px string) error {
			cards, probeErr = h.fetcher.FetchPage(ctx, r.storeURL, page, px)
			return probeErr
		})
		if ok {
			r.session = r.session.ProbeSucceeded()
			h.logger.Info("[ebay] Proxy %s validated", px)
			return cards, px, nil
		}
		if ctx.Err() != nil {
			return nil, px, probeErr
		}
		r.proxyFailed(px, probeErr)
		r.session = r.session.ProbeFailed()

	case proxy.UsingProxy:
		px := r.session.Through()
		cards, err := h.fetcher.FetchPage(ctx, r.storeURL, page, px)
		if err == nil {
			return cards, px, nil
		}
		if ctx.Err() != nil {
			return nil, px, err
		}
		r.pool.Demote(px)
		r.proxyFailed(px, err)
		r.session = r.session.ProxyFailed()
	}

	cards, err := h.fetcher.FetchPage(ctx, r.storeURL, page, "")
	return cards, "", err
}

func (r *run) proxyFailed(px string, err error) {
	r.summary.ProxyFailures++
	r.h.opts.Metrics.ProxyFailed()
	r.h.logger.Warn("[ebay] Proxy %s dropped (%d eligible left), continuing direct: %v", px, r.pool.Eligible(), err)
}

// checkpoint applies the rotation policy after every RotateEvery ingested items.
func (r *run) checkpoint() {
	prev := r.session
	if r.session.Phase == proxy.UsingProxy {
		r.session = r.session.Checkpoint(r.pool.Rotate(r.session.Proxy))
	} else {
		r.session = r.session.Checkpoint(r.pool.Select())
	}
	r.h.logger.Info("[ebay] Rotation checkpoint at %d items: %s -> %s", r.summary.IngestedItems, prev, r.session)
}

// ingest hands listings to the ingestor in BatchSize chunks. A failed chunk
// is logged and skipped. It returns the number of listings stored.
func (r *run) ingest(ctx context.Context, listings []models.Listing) int {
	h, sum := r.h, r.summary
	size := h.opts.BatchSize
	stored := 0

	for i := 0; i < len(listings); i += size {
		end := min(i+size, len(listings))
		chunk := listings[i:end]
		sum.Batches++

		if err := h.ingestor.Ingest(ctx, chunk); err != nil {
			sum.FailedBatches++
			h.opts.Metrics.BatchIngested(false)
			if storage.IsTimeout(err) {
				h.logger.Error("[ebay] Batch of %d items timed out: %v", len(chunk), err)
			} else {
				h.logger.Error("[ebay] Batch of %d items failed: %v", len(chunk), err)
			}
			continue
		}
		h.opts.Metrics.BatchIngested(true)
		h.logger.Debug("[ebay] Batch of %d items stored", len(chunk))
		stored += len(chunk)
	}
	return stored
}

func (r *run) jitter() time.Duration {
	lo, hi := r.h.opts.MinDelay, r.h.opts.MaxDelay
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.rnd.Int63n(int64(hi-lo)))
}
