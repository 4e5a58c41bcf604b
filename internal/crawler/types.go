// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"net/http"
	"time"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
	// Render asks for JavaScript rendering when the fetcher supports it.
	Render bool
	// PremiumProxy asks a proxying fetch API to route through its premium tier.
	PremiumProxy bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// StatusError reports a non-success HTTP status from the remote service.
type StatusError struct {
	URL  string
	Code int
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// HTTPStatus returns the upstream status code.
func (e *StatusError) HTTPStatus() int {
	return e.Code
}

// SearchResult is one hit returned by a Searcher.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// BatchStatus summarizes how a batch went.
type BatchStatus string

// Batch status values persisted in the batch store.
const (
	BatchStatusSucceeded BatchStatus = "succeeded"
	BatchStatusPartial   BatchStatus = "partial"
	BatchStatusFailed    BatchStatus = "failed"
	BatchStatusEmpty     BatchStatus = "empty"
)

// BatchRecord is persisted for each completed batch.
type BatchRecord struct {
	ID         string       `json:"id"`
	Status     BatchStatus  `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMs int64        `json:"duration_ms"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Items      []ItemRecord `json:"items"`
}

// ItemRecord is persisted for each item of a batch.
type ItemRecord struct {
	Index       int    `json:"index"`
	URL         string `json:"url"`
	OK          bool   `json:"ok"`
	FailureKind string `json:"failure_kind,omitempty"`
	Reason      string `json:"reason,omitempty"`
	StatusCode  int    `json:"status_code,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	ContentHash string `json:"content_hash,omitempty"`
	BlobURI     string `json:"blob_uri,omitempty"`
}

// StatusFor derives a batch status from its counters.
func StatusFor(succeeded, failed int) BatchStatus {
	switch {
	case succeeded == 0 && failed == 0:
		return BatchStatusEmpty
	case failed == 0:
		return BatchStatusSucceeded
	case succeeded == 0:
		return BatchStatusFailed
	default:
		return BatchStatusPartial
	}
}
