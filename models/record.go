// Package models defines data structures shared across the pipeline.
package models

import "time"

// ItemRef locates one detail page discovered on a listing page. The same
// URL can legitimately show up on several listing pages.
type ItemRef string

// GameRecord is one extracted row. Score fields carry the raw page text
// ("tbd" included); cleaning belongs to a downstream step, not this one.
type GameRecord struct {
	Name        string   `json:"name"`
	Platform    string   `json:"platform"`
	ReleaseDate string   `json:"release_date"`
	Metascore   string   `json:"metascore"`
	UserScore   string   `json:"user_score"`
	Developer   string   `json:"developer"`
	Publisher   []string `json:"publisher"`
	Genre       []string `json:"genre"`
}

// PageBatch is the checkpoint unit: all records extracted for one listing
// page index.
type PageBatch struct {
	Page    int
	Records []*GameRecord
}

// FailureKind classifies why an item or page could not be resolved.
type FailureKind string

const (
	// FailureRetryable means the retry budget was exhausted on transient errors.
	FailureRetryable FailureKind = "retryable"
	// FailureFatal means the resource does not exist; retrying cannot help.
	FailureFatal FailureKind = "fatal"
	// FailureExtraction means the page was fetched but yielded no usable record.
	FailureExtraction FailureKind = "extraction"
)

// FailedItem records one detail page that could not be resolved.
type FailedItem struct {
	Page   int
	Ref    ItemRef
	Kind   FailureKind
	Reason string
}

// PageFailure records a listing page whose own fetch failed; none of its
// detail pages were attempted.
type PageFailure struct {
	Page   int
	Kind   FailureKind
	Reason string
}

// PageResult is everything a page worker produced for one page index.
type PageResult struct {
	Page    int
	Records []*GameRecord
	Failed  []FailedItem
	Failure *PageFailure
}

// RunResult summarizes a whole run for the operator.
type RunResult struct {
	StartTime      time.Time
	EndTime        time.Time
	PagesProcessed int
	PagesSkipped   int
	RecordCount    int
	RequestCount   int64
	RetryCount     int64
	PageFailures   []PageFailure
	FailedItems    []FailedItem
	FailuresByKind map[string]int
}
