package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-games/config"
	"github.com/aluiziolira/go-scrape-games/fetcher"
	"github.com/aluiziolira/go-scrape-games/models"
	"github.com/aluiziolira/go-scrape-games/pipeline"
	"golang.org/x/sync/semaphore"
)

// Scheduler runs the page range in sequential chunks of BatchSize pages.
// Pages within a chunk run concurrently, all their HTTP work sharing one
// MaxConcurrency semaphore; a chunk is checkpointed in full before the
// next one starts, which bounds memory and gives resumption granularity.
type Scheduler struct {
	cfg     *config.Config
	worker  *Worker
	fetch   *fetcher.Client
	writer  pipeline.CheckpointWriter
	Metrics *Metrics
}

// NewScheduler wires the fetch client, page worker, and metrics around a
// checkpoint writer.
func NewScheduler(cfg *config.Config, writer pipeline.CheckpointWriter) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	metrics := NewMetrics()
	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	fetch := fetcher.NewClient(cfg, sem, metrics)

	worker, err := NewWorker(cfg, fetch, metrics)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		cfg:     cfg,
		worker:  worker,
		fetch:   fetch,
		writer:  writer,
		Metrics: metrics,
	}, nil
}

// SetTransport swaps the HTTP transport on the underlying client. Used by
// tests.
func (s *Scheduler) SetTransport(rt http.RoundTripper) {
	s.fetch.SetTransport(rt)
}

// Run processes the configured page range. It stops early only when ctx is
// cancelled or a checkpoint write fails; fetch and extraction failures are
// recorded per page or per item and never abort the run.
func (s *Scheduler) Run(ctx context.Context) (*models.RunResult, error) {
	result := &models.RunResult{
		StartTime:      time.Now(),
		FailuresByKind: make(map[string]int),
	}

	completed := map[int]bool{}
	if s.cfg.Resume {
		var err error
		completed, err = pipeline.CompletedPages(s.cfg.OutputDir, checkpointExt(s.cfg.OutputFormat))
		if err != nil {
			return result, err
		}
		if len(completed) > 0 {
			slog.Info("resuming run", slog.Int("completed_pages", len(completed)))
		}
	}

	for _, chunk := range chunkPages(s.cfg.StartPage, s.cfg.Pages, s.cfg.BatchSize) {
		if ctx.Err() != nil {
			break
		}

		results := make([]*models.PageResult, len(chunk))
		var wg sync.WaitGroup
		for i, page := range chunk {
			if completed[page] {
				result.PagesSkipped++
				continue
			}
			wg.Add(1)
			go func(i, page int) {
				defer wg.Done()
				r := s.worker.ProcessPage(ctx, page)
				results[i] = &r
			}(i, page)
		}
		wg.Wait()

		chunkFailures := make(map[string]int)
		for _, r := range results {
			if r == nil {
				continue
			}
			if r.Failure != nil {
				result.PageFailures = append(result.PageFailures, *r.Failure)
				result.FailuresByKind[string(r.Failure.Kind)]++
				chunkFailures[string(r.Failure.Kind)]++
				continue
			}

			batch := &models.PageBatch{Page: r.Page, Records: r.Records}
			if err := s.writer.WritePage(batch); err != nil {
				result.EndTime = time.Now()
				return result, fmt.Errorf("checkpoint page %d: %w", r.Page, err)
			}

			result.PagesProcessed++
			result.RecordCount += len(r.Records)
			for _, item := range r.Failed {
				result.FailedItems = append(result.FailedItems, item)
				result.FailuresByKind[string(item.Kind)]++
				chunkFailures[string(item.Kind)]++
			}
		}

		slog.Info("chunk complete",
			slog.Int("first_page", chunk[0]),
			slog.Int("last_page", chunk[len(chunk)-1]),
			slog.Int("pages_done", result.PagesProcessed),
			slog.Int("records", result.RecordCount),
			slog.Any("failures", chunkFailures),
		)
	}

	result.RequestCount = s.fetch.Requests()
	result.RetryCount = s.fetch.Retries()
	result.EndTime = time.Now()
	return result, nil
}

// chunkPages partitions [start, start+pages-1] into consecutive chunks of
// at most batchSize indices.
func chunkPages(start, pages, batchSize int) [][]int {
	var chunks [][]int
	for offset := 0; offset < pages; offset += batchSize {
		size := batchSize
		if remaining := pages - offset; remaining < size {
			size = remaining
		}
		chunk := make([]int, size)
		for i := range chunk {
			chunk[i] = start + offset + i
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func checkpointExt(format string) string {
	if format == "json" {
		return "jsonl"
	}
	return "csv"
}
