// Package fetcher adapts crawler.Fetcher implementations into per-item batch functions.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/parallel-fetcher/internal/batch"
	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
	"github.com/JakeFAU/parallel-fetcher/internal/extract"
)

// Mode names a fetch strategy.
type Mode string

// Supported modes.
const (
	ModeDirect   Mode = "direct"
	ModeZenRows  Mode = "zenrows"
	ModeHeadless Mode = "headless"
	ModeAuto     Mode = "auto"
)

// ParseMode validates a mode name. The empty string selects ModeDirect.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeDirect, nil
	case ModeDirect, ModeZenRows, ModeHeadless, ModeAuto:
		return m, nil
	default:
		return "", fmt.Errorf("unknown fetch mode %q", raw)
	}
}

// Options shape the request sent for every item and what is kept from the response.
type Options struct {
	Headers      http.Header
	Render       bool
	PremiumProxy bool
	// Extract returns visible text instead of the raw body.
	Extract bool
	// MaxTextLength is forwarded to extract.Options.MaxLength.
	MaxTextLength int
	// Timeout bounds each item. Zero leaves only the fetcher's own limits.
	Timeout time.Duration
}

// Text returns a batch.Func that fetches the URL it is given.
func Text(f crawler.Fetcher, opts Options) batch.Func[string] {
	return func(ctx context.Context, url string) (string, error) {
		return fetchText(ctx, f, url, opts)
	}
}

// SearchResultText returns a batch.Func that fetches the link of a search result.
func SearchResultText(f crawler.Fetcher, opts Options) batch.Func[crawler.SearchResult] {
	return func(ctx context.Context, result crawler.SearchResult) (string, error) {
		return fetchText(ctx, f, result.Link, opts)
	}
}

func fetchText(ctx context.Context, f crawler.Fetcher, url string, opts Options) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	resp, err := f.Fetch(ctx, crawler.FetchRequest{
		URL:          url,
		Headers:      opts.Headers,
		Render:       opts.Render,
		PremiumProxy: opts.PremiumProxy,
	})
	if err != nil {
		return "", err
	}
	if !opts.Extract {
		return string(resp.Body), nil
	}
	text, err := extract.Text(resp.Body, extract.Options{MaxLength: opts.MaxTextLength})
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", url, err)
	}
	return text, nil
}
