// Package scraper drives the two-stage listing→detail extraction: page
// workers resolve one listing page each, and the scheduler runs them in
// checkpointed chunks under a global in-flight bound.
package scraper

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-games/config"
	"github.com/aluiziolira/go-scrape-games/fetcher"
	"github.com/aluiziolira/go-scrape-games/models"
	"github.com/aluiziolira/go-scrape-games/parser"
	"golang.org/x/sync/errgroup"
)

// detailCacheSize bounds the per-run cache of parsed detail pages. A title
// released on several platforms shows up on each platform's listing pages,
// so the same detail URL recurs across a run.
const detailCacheSize = 2048

// Worker resolves one listing page at a time: fetch the listing, discover
// item refs, fan out detail fetches, accumulate the batch.
type Worker struct {
	cfg     *config.Config
	fetch   *fetcher.Client
	base    *url.URL
	cache   *lru.Cache[string, []*models.GameRecord]
	metrics *Metrics
}

// NewWorker builds a page worker sharing the given fetch client.
func NewWorker(cfg *config.Config, fetch *fetcher.Client, metrics *Metrics) (*Worker, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	cache, err := lru.New[string, []*models.GameRecord](detailCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create detail cache: %w", err)
	}

	return &Worker{
		cfg:     cfg,
		fetch:   fetch,
		base:    base,
		cache:   cache,
		metrics: metrics,
	}, nil
}

// ProcessPage resolves one listing page index. It never returns an error:
// a listing-level failure is recorded in the result and no detail fetch is
// attempted; an item-level failure never aborts its siblings.
func (w *Worker) ProcessPage(ctx context.Context, page int) models.PageResult {
	listingURL := w.cfg.ListingURL(page)

	out := w.fetch.Fetch(ctx, listingURL)
	if out.Kind != fetcher.OutcomeSuccess {
		w.metrics.IncPage("failed")
		return models.PageResult{
			Page: page,
			Failure: &models.PageFailure{
				Page:   page,
				Kind:   failureKind(out),
				Reason: failureReason(out),
			},
		}
	}

	refs, err := parser.ParseListing(out.Body, w.base)
	if err != nil {
		w.metrics.IncPage("failed")
		return models.PageResult{
			Page: page,
			Failure: &models.PageFailure{
				Page:   page,
				Kind:   models.FailureExtraction,
				Reason: err.Error(),
			},
		}
	}

	var (
		mu      sync.Mutex
		records []*models.GameRecord
		failed  []models.FailedItem
	)

	g := new(errgroup.Group)
	for _, ref := range refs {
		g.Go(func() error {
			recs, fail := w.resolveItem(ctx, page, ref)
			mu.Lock()
			defer mu.Unlock()
			if fail != nil {
				failed = append(failed, *fail)
				return nil
			}
			records = append(records, recs...)
			return nil
		})
	}
	g.Wait()

	w.metrics.IncPage("ok")
	w.metrics.AddRecords(len(records))

	return models.PageResult{Page: page, Records: records, Failed: failed}
}

// resolveItem fetches and parses one detail page, consulting the cache
// first so a URL rediscovered on a later listing page is not refetched.
func (w *Worker) resolveItem(ctx context.Context, page int, ref models.ItemRef) ([]*models.GameRecord, *models.FailedItem) {
	key := string(ref)
	if recs, ok := w.cache.Get(key); ok {
		return recs, nil
	}

	out := w.fetch.Fetch(ctx, key)
	if out.Kind != fetcher.OutcomeSuccess {
		return nil, &models.FailedItem{
			Page:   page,
			Ref:    ref,
			Kind:   failureKind(out),
			Reason: failureReason(out),
		}
	}

	recs, err := parser.ParseDetail(out.Body)
	if err != nil {
		return nil, &models.FailedItem{
			Page:   page,
			Ref:    ref,
			Kind:   models.FailureExtraction,
			Reason: err.Error(),
		}
	}

	w.cache.Add(key, recs)
	return recs, nil
}

func failureKind(out fetcher.FetchOutcome) models.FailureKind {
	if out.Kind == fetcher.OutcomeFatal {
		return models.FailureFatal
	}
	return models.FailureRetryable
}

func failureReason(out fetcher.FetchOutcome) string {
	if out.Err != nil {
		return out.Err.Error()
	}
	return fmt.Sprintf("http status %d", out.StatusCode)
}
