package lastfm

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrNotFound reports that Last.fm does not know the requested entity.
var ErrNotFound = errors.New("lastfm: not found")

// Last.fm error codes that mean the entity does not exist.
const (
	codeInvalidParameters = 6
	codeInvalidResource   = 7
)

// APIError is an error envelope returned by Last.fm.
type APIError struct {
	Method  string
	Code    int
	Message string
	Cause   error
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("lastfm %s: error %d: %s", e.Method, e.Code, e.Message)
}

// Unwrap returns the transport failure that carried the envelope, if any.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// Is matches ErrNotFound for missing-entity codes.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && (e.Code == codeInvalidParameters || e.Code == codeInvalidResource)
}

func parseAPIError(method string, payload []byte) *APIError {
	if !gjson.ValidBytes(payload) {
		return nil
	}
	root := gjson.ParseBytes(payload)
	code := root.Get("error")
	if !code.Exists() {
		return nil
	}

	return &APIError{
		Method:  method,
		Code:    int(code.Int()),
		Message: root.Get("message").String(),
	}
}
