package batch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

// Kind classifies why an item failed.
type Kind string

// Failure kinds recorded on outcomes.
const (
	KindTransport      Kind = "transport"
	KindTimeout        Kind = "timeout"
	KindUpstreamStatus Kind = "upstream_status"
	KindUnknown        Kind = "unknown"
)

// Failure describes a failed item. It is data carried on the Outcome, never returned as an error by FetchAll.
type Failure struct {
	Kind       Kind
	Reason     string
	StatusCode int
	Err        error
}

// Error implements error so a Failure can be logged or wrapped directly.
func (f *Failure) Error() string {
	return f.Reason
}

// Unwrap exposes the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// statusCoder is implemented by errors that carry an upstream HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// panicError wraps a value recovered from a panicking fetch func.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("fetch panicked: %v", p.value)
}

// Classify converts an error returned by a fetch func into a Failure.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	f := &Failure{Kind: KindUnknown, Reason: err.Error(), Err: err}

	var sc statusCoder
	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	var urlErr *url.Error
	var pe panicError
	switch {
	case errors.As(err, &pe):
		f.Kind = KindUnknown
	case errors.Is(err, context.DeadlineExceeded):
		f.Kind = KindTimeout
	case errors.Is(err, context.Canceled):
		// Checked before transport: net/http wraps cancellation in *url.Error.
		f.Kind = KindUnknown
	case errors.As(err, &netErr) && netErr.Timeout():
		f.Kind = KindTimeout
	case errors.As(err, &sc):
		f.Kind = KindUpstreamStatus
		f.StatusCode = sc.HTTPStatus()
	case errors.As(err, &dnsErr), errors.As(err, &opErr), errors.As(err, &urlErr),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		f.Kind = KindTransport
	}
	return f
}
