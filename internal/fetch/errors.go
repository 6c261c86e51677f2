package fetch

import (
	"errors"
	"fmt"
)

var (
	ErrRateLimited        = errors.New("rate limited by supplier")
	ErrServerError        = errors.New("supplier server error")
	ErrClientError        = errors.New("request rejected by supplier")
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrMalformedRequest   = errors.New("malformed request")
)

// Kind classifies why a fetch gave up.
type Kind string

const (
	// KindRejected means the supplier refused the request in a way retrying
	// cannot fix (4xx other than 429, malformed request or response).
	KindRejected Kind = "rejected"
	// KindExhausted means every attempt in the budget failed transiently.
	KindExhausted Kind = "exhausted"
)

// Error is returned by Fetch for every failure.
type Error struct {
	Kind       Kind
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s %s after %d attempt(s) (status %d): %v", e.URL, e.Kind, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s %s after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the fetch failure kind from err.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}
