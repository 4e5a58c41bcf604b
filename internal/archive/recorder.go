// Package archive records completed batches: successful content goes to blob storage, a summary row per
// batch and item goes to the batch store, and a notification is published.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-fetcher/internal/batch"
	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
)

// EventBatchCompleted is the event name published after a batch is recorded.
const EventBatchCompleted = "batch.completed"

// Hasher names content by digest.
type Hasher interface {
	Hash(data []byte) string
}

// Config tunes the recorder.
type Config struct {
	// Prefix is prepended to blob paths.
	Prefix string
	// SkipContent records outcomes without uploading their content.
	SkipContent bool
}

// Notification is the payload published for each recorded batch.
type Notification struct {
	BatchID    string              `json:"batch_id"`
	Status     crawler.BatchStatus `json:"status"`
	Succeeded  int                 `json:"succeeded"`
	Failed     int                 `json:"failed"`
	DurationMs int64               `json:"duration_ms"`
}

// Recorder persists batch results. Publisher may be nil.
type Recorder struct {
	blobs     crawler.BlobStore
	batches   crawler.BatchStore
	publisher crawler.Publisher
	hasher    Hasher
	cfg       Config
	logger    *zap.Logger
}

// New builds a Recorder.
func New(blobs crawler.BlobStore, batches crawler.BatchStore, publisher crawler.Publisher, hasher Hasher,
	cfg Config, logger *zap.Logger,
) (*Recorder, error) {
	if blobs == nil || batches == nil || hasher == nil {
		return nil, errors.New("blob store, batch store and hasher are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Recorder{blobs: blobs, batches: batches, publisher: publisher, hasher: hasher, cfg: cfg, logger: logger}, nil
}

// NewRecord summarizes a result. Items are listed by input index whatever order the result is in.
func NewRecord[T any](id string, startedAt time.Time, res batch.Result[T], urlOf func(T) string) crawler.BatchRecord {
	record := crawler.BatchRecord{
		ID:         id,
		StartedAt:  startedAt.UTC(),
		DurationMs: res.Elapsed.Milliseconds(),
		Items:      make([]crawler.ItemRecord, 0, res.Len()),
	}
	for _, o := range res.Outcomes {
		item := crawler.ItemRecord{
			Index:      o.Index,
			URL:        urlOf(o.Item),
			OK:         o.Succeeded(),
			DurationMs: o.Elapsed.Milliseconds(),
		}
		if o.Failure != nil {
			item.FailureKind = string(o.Failure.Kind)
			item.Reason = o.Failure.Reason
			item.StatusCode = o.Failure.StatusCode
			record.Failed++
		} else {
			record.Succeeded++
		}
		record.Items = append(record.Items, item)
	}
	sort.Slice(record.Items, func(i, j int) bool { return record.Items[i].Index < record.Items[j].Index })
	record.Status = crawler.StatusFor(record.Succeeded, record.Failed)
	return record
}

// Record archives a batch of URL fetches and returns what was saved. Blob upload failures are collected
// and returned alongside the saved record; store failures abort.
func (r *Recorder) Record(ctx context.Context, id string, startedAt time.Time, res batch.Result[string]) (crawler.BatchRecord, error) {
	record := NewRecord(id, startedAt, res, func(url string) string { return url })

	var uploadErrs []error
	if !r.cfg.SkipContent {
		content := make(map[int]string, res.Len())
		for _, o := range res.Successes() {
			content[o.Index] = o.Content
		}
		for i := range record.Items {
			item := &record.Items[i]
			body, ok := content[item.Index]
			if !ok {
				continue
			}
			item.ContentHash = r.hasher.Hash([]byte(body))
			uri, err := r.blobs.PutObject(ctx, r.objectPath(id, item.ContentHash), "text/plain; charset=utf-8", strings.NewReader(body))
			if err != nil {
				uploadErrs = append(uploadErrs, fmt.Errorf("upload item %d: %w", item.Index, err))
				continue
			}
			item.BlobURI = uri
		}
	}

	if err := r.batches.SaveBatch(ctx, record); err != nil {
		return record, fmt.Errorf("save batch %s: %w", id, err)
	}
	if r.publisher != nil {
		msgID, err := r.publisher.Publish(ctx, EventBatchCompleted, Notification{
			BatchID:    record.ID,
			Status:     record.Status,
			Succeeded:  record.Succeeded,
			Failed:     record.Failed,
			DurationMs: record.DurationMs,
		})
		if err != nil {
			uploadErrs = append(uploadErrs, fmt.Errorf("publish batch %s: %w", id, err))
		} else {
			r.logger.Debug("batch notification published", zap.String("batch_id", id), zap.String("message_id", msgID))
		}
	}
	r.logger.Info("batch recorded",
		zap.String("batch_id", id),
		zap.String("status", string(record.Status)),
		zap.Int("succeeded", record.Succeeded),
		zap.Int("failed", record.Failed),
	)
	return record, errors.Join(uploadErrs...)
}

func (r *Recorder) objectPath(id, hash string) string {
	return path.Join(r.cfg.Prefix, id, hash+".txt")
}
