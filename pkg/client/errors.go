package client

import (
	"fmt"
)

// AuthError means a bearer token could not be attached before the
// request was sent.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx response after the retry policy is exhausted.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("HttpError[%d]", e.StatusCode)
	}
	return fmt.Sprintf("HttpError[%d]: %s", e.StatusCode, e.Body)
}

// NetworkError is a transport-level failure. Retrying is left to the
// caller's own policy.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
