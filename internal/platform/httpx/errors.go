// Package httpx writes JSON bodies and RFC 7807 problem responses.
package httpx

import (
	"errors"
	"net/http"
)

// Request-level failures. Wrap them with context; the wrapped message becomes
// the problem detail.
var (
	ErrValidation  = errors.New("invalid request")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("service unavailable")
)

// StatusOf maps err onto an HTTP status code.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as a problem. Unclassified errors never leak their message.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = ""
	}
	Problem(w, r, status, detail)
}
