// Package apperr holds the error taxonomy shared by the realtime core and its
// HTTP/socket edges. Callers wrap one of the sentinels with fmt.Errorf("%w: ...")
// and the edges map it back with Code and Status.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidRequest covers malformed or missing fields. User-correctable, never retried.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrForbidden is an InvalidRequest where the caller is not allowed to act on the target.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is an InvalidRequest where the target does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPersistence means the store was unavailable or a write failed.
	ErrPersistence = errors.New("persistence error")
	// ErrAutoResponder means the assistant pipeline failed to produce its reply.
	ErrAutoResponder = errors.New("auto-responder error")
	// ErrPresenceInconsistency marks a delivery target that is no longer active.
	// It is logged and skipped, never returned to a client.
	ErrPresenceInconsistency = errors.New("presence inconsistency")
)

// Code returns the machine readable code sent in socket error frames and HTTP bodies.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrAutoResponder):
		return "auto_responder_error"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "internal_error"
	}
}

// Status maps err to an HTTP status code.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrAutoResponder):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
