package enrich

import (
	"errors"
	"fmt"
)

// Common errors returned by the catalog client.
var (
	// ErrNotFound indicates the catalog has no record for the lookup.
	ErrNotFound = errors.New("work not found in catalog")

	// ErrRateLimited indicates the catalog rejected the request for
	// exceeding its rate limits.
	ErrRateLimited = errors.New("rate limited by catalog")

	// ErrAuthError indicates authentication or authorization failed.
	ErrAuthError = errors.New("catalog authentication failed")

	// ErrNetworkError indicates a network-level failure.
	ErrNetworkError = errors.New("network error")

	// ErrInvalidResponse indicates the catalog returned a payload the
	// client could not parse.
	ErrInvalidResponse = errors.New("invalid catalog response")
)

// APIError represents a structured error from the catalog API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsRetryable reports whether the failure is transient. Retryable
// failures send a record to the failure stage for later resubmission;
// the distinction matters to operators, not to the state machine.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetworkError) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return false
}
