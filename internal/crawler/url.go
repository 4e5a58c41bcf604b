package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrEmptyURL is returned for blank input.
	ErrEmptyURL = errors.New("url is empty")
	// ErrInvalidURL is returned when the URL lacks a scheme or host.
	ErrInvalidURL = errors.New("invalid url format")
	// ErrBlockedURL is returned when the host matches the blocklist.
	ErrBlockedURL = errors.New("url host is blocked")
)

// PrepareURL trims user input, adds https:// when no scheme is given, and rejects URLs
// without a scheme and host. The host is lowercased and any fragment dropped.
func PrepareURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyURL
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}

// PrepareURLs runs PrepareURL over every input and checks each host against the blocklist.
// The first invalid entry aborts with its position in the error.
func PrepareURLs(raw []string, blocked *Blocklist) ([]string, error) {
	out := make([]string, 0, len(raw))
	for i, r := range raw {
		u, err := PrepareURL(r)
		if err != nil {
			return nil, fmt.Errorf("url #%d: %w", i+1, err)
		}
		if blocked.BlocksURL(u) {
			return nil, fmt.Errorf("url #%d: %w: %s", i+1, ErrBlockedURL, u)
		}
		out = append(out, u)
	}
	return out, nil
}
