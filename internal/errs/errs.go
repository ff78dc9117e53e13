// Package errs holds the sentinel errors shared by the credential core and
// their mapping to HTTP status codes at the API boundary.
package errs

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound covers missing system users, assets and organizations.
	ErrNotFound = errors.New("not found")
	// ErrCredentialNotFound means resolution found no usable secret.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrValidation covers malformed actions, usernames and payloads.
	ErrValidation = errors.New("validation failed")
	// ErrStoreWrite wraps persistence failures during set and clear.
	ErrStoreWrite = errors.New("store write failed")
	// ErrThrottled is returned when job submissions exceed the configured rate.
	ErrThrottled = errors.New("too many submissions")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// IsNotFound reports whether err is either kind of not-found. The API uses it
// to answer both with the same body so callers cannot tell them apart.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCredentialNotFound)
}

// Status maps err to the HTTP status the API answers with.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
