// Package zenrows fetches pages through the ZenRows scraping API, which can render JavaScript and route
// requests through premium proxies on the caller's behalf.
package zenrows

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
)

// DefaultEndpoint is the public ZenRows API base URL.
const DefaultEndpoint = "https://api.zenrows.com/v1/"

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("zenrows api key is required")

// Config controls how requests are sent to ZenRows.
type Config struct {
	APIKey   string
	Endpoint string
	// Antibot enables the API's anti-bot bypass.
	Antibot bool
	// Wait lets rendered pages settle before the DOM is captured. Only sent with rendering enabled.
	Wait time.Duration
}

// Fetcher implements crawler.Fetcher by calling ZenRows through an underlying HTTP fetcher.
type Fetcher struct {
	cfg  Config
	http crawler.Fetcher
}

// New builds a Fetcher. The HTTP fetcher should carry the request timeout; ZenRows renders can take
// tens of seconds.
func New(cfg Config, httpFetcher crawler.Fetcher) (*Fetcher, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if httpFetcher == nil {
		return nil, errors.New("http fetcher is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("parse zenrows endpoint: %w", err)
	}
	return &Fetcher{cfg: cfg, http: httpFetcher}, nil
}

// Fetch asks ZenRows for request.URL and returns the page it delivered.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	apiURL := f.buildURL(request)
	resp, err := f.http.Fetch(ctx, crawler.FetchRequest{URL: apiURL, Headers: request.Headers})
	if err != nil {
		var statusErr *crawler.StatusError
		if errors.As(err, &statusErr) {
			return crawler.FetchResponse{}, fmt.Errorf("zenrows: %w", &crawler.StatusError{URL: request.URL, Code: statusErr.Code})
		}
		return crawler.FetchResponse{}, fmt.Errorf("zenrows: %w", redactedError{err: err, secret: f.cfg.APIKey})
	}
	resp.URL = request.URL
	resp.Rendered = request.Render
	return resp, nil
}

func (f *Fetcher) buildURL(request crawler.FetchRequest) string {
	params := url.Values{}
	params.Set("url", request.URL)
	params.Set("apikey", f.cfg.APIKey)
	if request.Render {
		params.Set("js_render", "true")
		if f.cfg.Wait > 0 {
			params.Set("wait", strconv.FormatInt(f.cfg.Wait.Milliseconds(), 10))
		}
	}
	if request.PremiumProxy {
		params.Set("premium_proxy", "true")
	}
	if f.cfg.Antibot {
		params.Set("antibot", "true")
	}
	sep := "?"
	if strings.Contains(f.cfg.Endpoint, "?") {
		sep = "&"
	}
	return f.cfg.Endpoint + sep + params.Encode()
}

// redactedError hides the API key that transport errors echo back through the request URL.
type redactedError struct {
	err    error
	secret string
}

func (e redactedError) Error() string {
	msg := e.err.Error()
	if e.secret == "" {
		return msg
	}
	msg = strings.ReplaceAll(msg, url.QueryEscape(e.secret), "REDACTED")
	return strings.ReplaceAll(msg, e.secret, "REDACTED")
}

func (e redactedError) Unwrap() error {
	return e.err
}
