// Package cache memoizes search results in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
)

const (
	defaultTTL    = time.Hour
	defaultPrefix = "search"
)

// KV is the subset of the Redis client the cache needs. *redis.Client satisfies it.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Config controls cache keys and expiry.
type Config struct {
	TTL    time.Duration
	Prefix string
}

// Searcher wraps another Searcher with a read-through cache. Redis errors never fail a search.
type Searcher struct {
	next   crawler.Searcher
	kv     KV
	cfg    Config
	logger *zap.Logger
}

// New wraps next.
func New(next crawler.Searcher, kv KV, cfg Config, logger *zap.Logger) *Searcher {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{next: next, kv: kv, cfg: cfg, logger: logger}
}

// Search implements crawler.Searcher.
func (s *Searcher) Search(ctx context.Context, query string, n int) ([]crawler.SearchResult, error) {
	key := s.key(query, n)

	raw, err := s.kv.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []crawler.SearchResult
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			s.logger.Debug("search cache hit", zap.String("key", key))
			return cached, nil
		}
		s.logger.Warn("discarding corrupt search cache entry", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		s.logger.Warn("search cache read failed", zap.String("key", key), zap.Error(err))
	}

	results, err := s.next.Search(ctx, query, n)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return results, nil
	}
	if err := s.kv.Set(ctx, key, payload, s.cfg.TTL).Err(); err != nil {
		s.logger.Warn("search cache write failed", zap.String("key", key), zap.Error(err))
	}
	return results, nil
}

func (s *Searcher) key(query string, n int) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	return fmt.Sprintf("%s:%d:%s", s.cfg.Prefix, n, normalized)
}
