package fetcher

import (
	"errors"
	"fmt"
)

// Sentinel errors. A *FetchError matches the sentinel for its Kind via errors.Is.
var (
	// ErrRetryExhausted is returned when all attempts failed with retryable errors.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the run context ends mid-fetch.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrTimeout matches fetches whose final attempt timed out.
	ErrTimeout = errors.New("request timed out")

	// ErrNonRetryableStatus matches fetches rejected with a non-retryable status.
	ErrNonRetryableStatus = errors.New("non-retryable status")
)

// ErrorClass represents a classification of a failed attempt.
type ErrorClass string

const (
	// ErrorClassClient represents non-retryable 4xx (and unexpected) statuses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents retryable 5xx statuses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport errors and attempt timeouts.
	ErrorClassNetwork ErrorClass = "network"
)

// shouldRetry determines if an error class is transient.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// AttemptError describes one failed HTTP attempt.
type AttemptError struct {
	StatusCode int
	ErrorClass ErrorClass
	Timeout    bool
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *AttemptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v", e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AttemptError) Unwrap() error {
	return e.Err
}

// Kind distinguishes why a fetch gave up.
type Kind string

const (
	KindTimeout            Kind = "timeout"
	KindRetryExhausted     Kind = "retry_exhausted"
	KindNonRetryableStatus Kind = "non_retryable_status"
	KindCancelled          Kind = "cancelled"
)

// FetchError is the only error Fetch returns.
type FetchError struct {
	Kind       Kind
	URL        string
	StatusCode int
	ErrorClass ErrorClass
	Attempts   int
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is maps the error kind onto the package sentinels.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrNonRetryableStatus:
		return e.Kind == KindNonRetryableStatus
	case ErrRetryExhausted:
		return e.Kind == KindRetryExhausted || e.Kind == KindTimeout
	case ErrContextCancelled:
		return e.Kind == KindCancelled
	}
	return false
}
