package gateway

import (
	"errors"
	"fmt"
)

// ErrFetch matches every FetchError through errors.Is.
var ErrFetch = errors.New("gateway: upstream fetch failed")

// FetchError reports an upstream call that did not produce a usable payload.
// It is never used for an empty result.
type FetchError struct {
	Operation string
	// StatusCode is the upstream HTTP status, zero for transport failures.
	StatusCode int
	// Body holds a short prefix of the upstream error payload when present.
	Body  string
	Cause error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("fetch %s: %v", e.Operation, e.Cause)
	}
	if e.Body != "" {
		return fmt.Sprintf("fetch %s: status %d: %s", e.Operation, e.StatusCode, e.Body)
	}

	return fmt.Sprintf("fetch %s: status %d", e.Operation, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// Is makes every FetchError match ErrFetch.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

// AsFetchError extracts a FetchError from a wrapped chain.
func AsFetchError(err error) (*FetchError, bool) {
	var fetchErr *FetchError
	if err != nil && errors.As(err, &fetchErr) {
		return fetchErr, true
	}

	return nil, false
}
