package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrBatchNotFound is returned by BatchStore.GetBatch for unknown IDs.
var ErrBatchNotFound = errors.New("batch not found")

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Searcher runs a web search and returns at most n results.
type Searcher interface {
	Search(ctx context.Context, query string, n int) ([]SearchResult, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes batch notifications to Pub/Sub (or similar) and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BatchStore persists batch records.
type BatchStore interface {
	SaveBatch(ctx context.Context, record BatchRecord) error
	GetBatch(ctx context.Context, id string) (BatchRecord, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs.
type IDGenerator interface {
	NewID() (string, error)
}
