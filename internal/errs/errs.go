package errs

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// httpError defines an error which contains
// an http status code from an API request.
// This facilitates a more accurate error mapping
// for callers of the token endpoint.
type httpError interface {
	Code() int
}

type HttpError struct {
	code int
	err  error
}

// NewHttpError builds an error from a non-2xx response, preferring the
// server-reported OAuth2 error fields over the fallback message.
func NewHttpError(code int, b []byte, fallback string) HttpError {
	e := errors.New(fallback)

	if b != nil {
		var r struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		if err := json.Unmarshal(b, &r); err == nil && r.Error != "" {
			if r.Description != "" {
				e = errors.New(fmt.Sprintf("%s: %s", r.Error, r.Description))
			} else {
				e = errors.New(r.Error)
			}
		}
	}

	return HttpError{
		code: code,
		err:  e,
	}
}

func (e HttpError) Error() string {
	return errors.Wrap(e.err, fmt.Sprintf("HttpError[%v]", e.code)).Error()
}

func (e HttpError) Code() int {
	return e.code
}

func ExtractHttpError(err error) (int, bool) {
	e, ok := err.(httpError)
	if !ok {
		return 0, false
	}
	return e.Code(), true
}
