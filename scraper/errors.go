package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Transport failure kinds used as log fields and metric labels.
const (
	KindTimeout     = "timeout"
	KindConnection  = "connection"
	KindForbidden   = "forbidden"
	KindNotFound    = "not_found"
	KindRateLimited = "rate_limited"
	KindOther       = "other"
	KindUnknown     = "unknown"
)

// TransportError is a fetch failure reported by the crawl engine.
type TransportError struct {
	Kind       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// classifyError wraps err in a TransportError; nil when there is nothing to report.
func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	wrap := func(kind string) error {
		cause := err
		if cause == nil {
			cause = fmt.Errorf("http status %d", statusCode)
		}
		return &TransportError{Kind: kind, StatusCode: statusCode, Err: cause}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return wrap(KindTimeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wrap(KindTimeout)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return wrap(KindConnection)
	}

	switch statusCode {
	case http.StatusForbidden:
		return wrap(KindForbidden)
	case http.StatusNotFound:
		return wrap(KindNotFound)
	case http.StatusTooManyRequests:
		return wrap(KindRateLimited)
	}

	if err == nil {
		return nil
	}
	return wrap(KindOther)
}

func errorTypeLabel(err error) string {
	var transport *TransportError
	if errors.As(err, &transport) {
		return transport.Kind
	}
	if err == nil {
		return KindUnknown
	}
	return KindOther
}

// retryable reports whether a failed fetch is worth re-submitting.
func retryable(err error) bool {
	switch errorTypeLabel(err) {
	case KindForbidden, KindNotFound:
		return false
	default:
		return true
	}
}
