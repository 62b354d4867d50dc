package collect

import (
	"errors"
	"fmt"
)

// ErrorKind defines the normalized failure taxonomy shared by all collectors.
type ErrorKind string

const (
	// ErrorUnsupportedRegistry indicates the target TLD has no known
	// registration authority.
	ErrorUnsupportedRegistry ErrorKind = "unsupported_registry"

	// ErrorUpstreamTimeout indicates the upstream service took too long.
	ErrorUpstreamTimeout ErrorKind = "upstream_timeout"

	// ErrorUpstreamUnavailable indicates the upstream service is down or
	// refusing queries.
	ErrorUpstreamUnavailable ErrorKind = "upstream_unavailable"

	// ErrorParseFailure indicates a single malformed upstream record.
	// Collectors drop the record; this kind only surfaces when nothing
	// usable remains.
	ErrorParseFailure ErrorKind = "parse_failure"

	// ErrorNoDataFound is informational: the query worked, nothing matched.
	ErrorNoDataFound ErrorKind = "no_data_found"

	// ErrorNavigationFailure indicates the headless browser could not load
	// the target page.
	ErrorNavigationFailure ErrorKind = "navigation_failure"

	// ErrorResourceFetchTimeout indicates a per-resource header fetch ran
	// out of time.
	ErrorResourceFetchTimeout ErrorKind = "resource_fetch_timeout"

	// ErrorInternal indicates an unexpected fault inside a collector.
	ErrorInternal ErrorKind = "internal"
)

// Error wraps collector failures with normalized categorization. It is the
// only error shape that crosses a collector boundary.
type Error struct {
	Kind       ErrorKind
	Module     Module
	Message    string
	Underlying error
	Retryable  bool
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Module, e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Module, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError creates a normalized collector error. Retryability follows from
// the kind: transient upstream conditions are worth retrying, data problems
// are not.
func NewError(kind ErrorKind, module Module, message string, underlying error) *Error {
	retryable := kind == ErrorUpstreamTimeout ||
		kind == ErrorUpstreamUnavailable ||
		kind == ErrorResourceFetchTimeout

	return &Error{
		Kind:       kind,
		Module:     module,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// KindOf extracts the error kind, defaulting to internal for foreign errors.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrorInternal
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// StatusText maps an error kind to the public status string carried in
// error envelopes, e.g. {"status": "Service Unavailable", "message": ...}.
func StatusText(kind ErrorKind) string {
	switch kind {
	case ErrorUpstreamUnavailable:
		return "Service Unavailable"
	case ErrorUpstreamTimeout, ErrorResourceFetchTimeout:
		return "Timeout"
	case ErrorUnsupportedRegistry:
		return "Unsupported Registry"
	case ErrorNavigationFailure:
		return "Navigation Failed"
	case ErrorNoDataFound:
		return "No Results"
	default:
		return "Error"
	}
}
