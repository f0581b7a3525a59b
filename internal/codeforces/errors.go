package codeforces

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is a response with status FAILED.
type APIError struct {
	Method  string
	Comment string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("codeforces %s: %s", e.Method, e.Comment)
}

// NotFound reports whether the API said the requested object does not exist.
func (e *APIError) NotFound() bool {
	return strings.Contains(strings.ToLower(e.Comment), "not found")
}

func (e *APIError) callLimit() bool {
	return strings.Contains(strings.ToLower(e.Comment), "call limit exceeded")
}

// HTTPError is a non-2xx response without a usable API body.
type HTTPError struct {
	Method string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("codeforces %s: http %d", e.Method, e.Status)
}

// IsNotFound reports whether err is an APIError about a missing object.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.NotFound()
}

var ErrHandleNotFound = errors.New("codeforces handle not found")

func retryable(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.callLimit()
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status == 429 || he.Status >= 500
	}
	// Transport and decode errors.
	return true
}
