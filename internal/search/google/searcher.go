// Package google runs web searches through the Google Custom Search JSON API.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
)

// MaxResults is the largest page the API returns per request.
const MaxResults = 10

var (
	// ErrQuotaExceeded is returned when the API answers 403, which it does once the daily quota is spent.
	ErrQuotaExceeded = errors.New("search quota exceeded")
	// ErrRateLimited is returned when the API answers 429.
	ErrRateLimited = errors.New("search rate limited")
	// ErrMissingCredentials is returned by New without an API key or engine ID.
	ErrMissingCredentials = errors.New("google search api key and engine id are required")
)

// Config carries the search credentials.
type Config struct {
	APIKey   string
	EngineID string
	// Endpoint overrides the API base URL.
	Endpoint string
}

// Searcher implements crawler.Searcher.
type Searcher struct {
	svc      *customsearch.Service
	engineID string
	logger   *zap.Logger
}

// New builds a Searcher.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Searcher, error) {
	if cfg.APIKey == "" || cfg.EngineID == "" {
		return nil, ErrMissingCredentials
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create customsearch service: %w", err)
	}
	return &Searcher{svc: svc, engineID: cfg.EngineID, logger: logger}, nil
}

// Search returns up to min(n, MaxResults) results for query.
func (s *Searcher) Search(ctx context.Context, query string, n int) ([]crawler.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is empty")
	}
	if n <= 0 {
		return []crawler.SearchResult{}, nil
	}
	n = min(n, MaxResults)

	resp, err := s.svc.Cse.List().Cx(s.engineID).Q(query).Num(int64(n)).Context(ctx).Do()
	if err != nil {
		return nil, translateError(err)
	}

	results := make([]crawler.SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil || item.Link == "" {
			continue
		}
		results = append(results, crawler.SearchResult{
			Title:   item.Title,
			Link:    item.Link,
			Snippet: item.Snippet,
		})
	}
	s.logger.Debug("search finished", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

func translateError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, apiErr.Message)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
		}
	}
	return fmt.Errorf("custom search: %w", err)
}
