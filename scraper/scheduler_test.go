package scraper

import (
	"context"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-games/models"
	"github.com/aluiziolira/go-scrape-games/pipeline"
	"github.com/jarcoal/httpmock"
)

// collectingWriter is an in-memory CheckpointWriter for tests.
type collectingWriter struct {
	mu      sync.Mutex
	batches []*models.PageBatch
}

func (cw *collectingWriter) WritePage(batch *models.PageBatch) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.batches = append(cw.batches, batch)
	return nil
}

func (cw *collectingWriter) Close() error {
	return nil
}

func (cw *collectingWriter) Validate() error {
	return nil
}

func (cw *collectingWriter) pages() []int {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	out := make([]int, len(cw.batches))
	for i, b := range cw.batches {
		out[i] = b.Page
	}
	return out
}

// eventLog records fetch and write events in global order so barrier
// properties can be asserted after a run.
type eventLog struct {
	mu      sync.Mutex
	entries []event
}

type event struct {
	kind string // "fetch" or "write"
	page int
}

func (l *eventLog) add(kind string, page int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, event{kind: kind, page: page})
}

func (l *eventLog) snapshot() []event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]event, len(l.entries))
	copy(out, l.entries)
	return out
}

// loggingWriter records write events into an eventLog.
type loggingWriter struct {
	log *eventLog
}

func (lw *loggingWriter) WritePage(batch *models.PageBatch) error {
	lw.log.add("write", batch.Page)
	return nil
}

func (lw *loggingWriter) Close() error {
	return nil
}

func (lw *loggingWriter) Validate() error {
	return nil
}

func TestChunkPages(t *testing.T) {
	got := chunkPages(1, 10, 3)
	want := [][]int{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}, {10}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chunkPages(1, 10, 3) = %v, want %v", got, want)
	}
}

func TestChunkPagesStartOffset(t *testing.T) {
	got := chunkPages(5, 4, 2)
	want := [][]int{{5, 6}, {7, 8}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chunkPages(5, 4, 2) = %v, want %v", got, want)
	}
}

func TestChunkPagesSingleChunk(t *testing.T) {
	got := chunkPages(1, 2, 10)
	want := [][]int{{1, 2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chunkPages(1, 2, 10) = %v, want %v", got, want)
	}
}

func TestSchedulerChunkBarrier(t *testing.T) {
	cfg := testConfig()
	cfg.Pages = 10
	cfg.BatchSize = 3
	cfg.MaxRetries = 0

	log := &eventLog{}
	s, transport := newTestScheduler(t, cfg, &loggingWriter{log: log})

	for page := 1; page <= cfg.Pages; page++ {
		transport.RegisterResponder("GET", cfg.ListingURL(page), func(req *http.Request) (*http.Response, error) {
			log.add("fetch", page)
			return httpmock.NewStringResponse(200, "<html><body></body></html>"), nil
		})
	}

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.PagesProcessed != 10 {
		t.Fatalf("pages processed = %d, want 10", result.PagesProcessed)
	}

	// A fetch of any page may only happen once every page of every earlier
	// chunk has been checkpointed.
	chunkOf := func(page int) int { return (page - 1) / cfg.BatchSize }
	chunkSize := func(chunk int) int {
		size := cfg.Pages - chunk*cfg.BatchSize
		if size > cfg.BatchSize {
			size = cfg.BatchSize
		}
		return size
	}

	written := make(map[int]int)
	for _, e := range log.snapshot() {
		switch e.kind {
		case "write":
			written[chunkOf(e.page)]++
		case "fetch":
			for earlier := 0; earlier < chunkOf(e.page); earlier++ {
				if written[earlier] != chunkSize(earlier) {
					t.Fatalf("page %d fetched before chunk %d was fully checkpointed (%d/%d written)",
						e.page, earlier, written[earlier], chunkSize(earlier))
				}
			}
		}
	}
}

func TestSchedulerConcurrencyCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.Pages = 2
	cfg.BatchSize = 2
	cfg.MaxConcurrency = 3
	cfg.MaxRetries = 0

	var inFlight, maxInFlight int64
	counted := func(inner httpmock.Responder) httpmock.Responder {
		return func(req *http.Request) (*http.Response, error) {
			current := atomic.AddInt64(&inFlight, 1)
			defer atomic.AddInt64(&inFlight, -1)
			for {
				max := atomic.LoadInt64(&maxInFlight)
				if current <= max || atomic.CompareAndSwapInt64(&maxInFlight, max, current) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return inner(req)
		}
	}

	writer := &collectingWriter{}
	s, transport := newTestScheduler(t, cfg, writer)

	transport.RegisterResponder("GET", cfg.ListingURL(1),
		counted(httpmock.NewStringResponder(200, listingHTML("/game/a/", "/game/b/", "/game/c/", "/game/d/"))))
	transport.RegisterResponder("GET", cfg.ListingURL(2),
		counted(httpmock.NewStringResponder(200, listingHTML("/game/e/", "/game/f/", "/game/g/", "/game/h/"))))
	for _, slug := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		transport.RegisterResponder("GET", "http://example.test/game/"+slug+"/",
			counted(httpmock.NewStringResponder(200, detailHTML("Game "+slug, "PC"))))
	}

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RecordCount != 8 {
		t.Fatalf("records = %d, want 8", result.RecordCount)
	}
	if got := atomic.LoadInt64(&maxInFlight); got > int64(cfg.MaxConcurrency) {
		t.Fatalf("max in-flight = %d, exceeds concurrency cap %d", got, cfg.MaxConcurrency)
	}
}

func TestSchedulerRecordsFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0

	writer := &collectingWriter{}
	s, transport := newTestScheduler(t, cfg, writer)

	transport.RegisterResponder("GET", cfg.ListingURL(1),
		httpmock.NewStringResponder(200, listingHTML("/game/ok/", "/game/gone/")))
	transport.RegisterResponder("GET", "http://example.test/game/ok/",
		httpmock.NewStringResponder(200, detailHTML("OK Game", "PC")))
	transport.RegisterResponder("GET", "http://example.test/game/gone/",
		httpmock.NewStringResponder(404, ""))

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.PagesProcessed != 1 {
		t.Fatalf("pages processed = %d, want 1", result.PagesProcessed)
	}
	if result.RecordCount != 1 {
		t.Fatalf("records = %d, want 1", result.RecordCount)
	}
	if len(result.FailedItems) != 1 {
		t.Fatalf("failed items = %d, want 1", len(result.FailedItems))
	}
	if got := result.FailuresByKind[string(models.FailureFatal)]; got != 1 {
		t.Fatalf("fatal failures = %d, want 1", got)
	}
	if got := writer.pages(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("checkpointed pages = %v, want [1]", got)
	}
}

func TestSchedulerPageFailureSkipsCheckpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Pages = 2
	cfg.BatchSize = 2
	cfg.MaxRetries = 0

	writer := &collectingWriter{}
	s, transport := newTestScheduler(t, cfg, writer)

	transport.RegisterResponder("GET", cfg.ListingURL(1),
		httpmock.NewStringResponder(200, "<html><body></body></html>"))
	transport.RegisterResponder("GET", cfg.ListingURL(2),
		httpmock.NewStringResponder(503, ""))

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.PagesProcessed != 1 {
		t.Fatalf("pages processed = %d, want 1", result.PagesProcessed)
	}
	if len(result.PageFailures) != 1 || result.PageFailures[0].Page != 2 {
		t.Fatalf("page failures = %+v, want page 2", result.PageFailures)
	}
	if result.PageFailures[0].Kind != models.FailureRetryable {
		t.Fatalf("page failure kind = %q, want retryable", result.PageFailures[0].Kind)
	}
	if got := writer.pages(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("checkpointed pages = %v, want [1] only", got)
	}
}

func TestSchedulerResumeSkipsCompleted(t *testing.T) {
	dir := t.TempDir()
	seed, err := pipeline.NewCSVWriter(dir)
	if err != nil {
		t.Fatalf("new csv writer: %v", err)
	}
	if err := seed.WritePage(&models.PageBatch{Page: 1}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	cfg := testConfig()
	cfg.Pages = 2
	cfg.BatchSize = 2
	cfg.OutputDir = dir
	cfg.Resume = true

	writer := &collectingWriter{}
	s, transport := newTestScheduler(t, cfg, writer)

	transport.RegisterResponder("GET", cfg.ListingURL(1), func(req *http.Request) (*http.Response, error) {
		t.Errorf("page 1 fetched despite existing checkpoint")
		return httpmock.NewStringResponse(200, ""), nil
	})
	transport.RegisterResponder("GET", cfg.ListingURL(2),
		httpmock.NewStringResponder(200, "<html><body></body></html>"))

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.PagesSkipped != 1 {
		t.Fatalf("pages skipped = %d, want 1", result.PagesSkipped)
	}
	if result.PagesProcessed != 1 {
		t.Fatalf("pages processed = %d, want 1", result.PagesProcessed)
	}
}
