package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
)

// BatchStore keeps batch records in a map.
type BatchStore struct {
	mu      sync.RWMutex
	batches map[string]crawler.BatchRecord
}

// NewBatchStore constructs an empty BatchStore.
func NewBatchStore() *BatchStore {
	return &BatchStore{batches: make(map[string]crawler.BatchRecord)}
}

// SaveBatch stores record, replacing any earlier record with the same ID.
func (s *BatchStore) SaveBatch(_ context.Context, record crawler.BatchRecord) error {
	if record.ID == "" {
		return fmt.Errorf("batch id is required")
	}
	record.Items = append([]crawler.ItemRecord(nil), record.Items...)
	s.mu.Lock()
	s.batches[record.ID] = record
	s.mu.Unlock()
	return nil
}

// GetBatch returns a copy of the stored record.
func (s *BatchStore) GetBatch(_ context.Context, id string) (crawler.BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.batches[id]
	if !ok {
		return crawler.BatchRecord{}, fmt.Errorf("get batch %s: %w", id, crawler.ErrBatchNotFound)
	}
	record.Items = append([]crawler.ItemRecord(nil), record.Items...)
	return record, nil
}
