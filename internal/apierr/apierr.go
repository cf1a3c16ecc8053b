// Package apierr defines the stable error taxonomy shared by the memory
// core and its HTTP surface (spec §7). Operations that need a specific
// HTTP status return one of these kinds (wrapped with context), so the
// HTTP layer can map it onto a status code in one place; errors that carry
// no kind take StatusFor's fallback status.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the stable error categories from spec §7.
type Kind string

const (
	BadRequest            Kind = "bad_request"
	NotFound              Kind = "not_found"
	VersionConflict       Kind = "version_conflict"
	DuplicateContentHash  Kind = "duplicate_content_hash"
	PinnedRequiresForce   Kind = "pinned_requires_force"
	AutonomousForceDenied Kind = "autonomous_force_denied"
	RetentionExpired      Kind = "retention_expired"
	RateLimited           Kind = "rate_limited"
	PolicyDenied          Kind = "policy_denied"
	ProviderUnavailable   Kind = "provider_unavailable"
	Internal              Kind = "internal_error"
)

// statusByKind maps each taxonomy entry onto its HTTP status (spec §7).
var statusByKind = map[Kind]int{
	BadRequest:            http.StatusBadRequest,
	NotFound:              http.StatusNotFound,
	VersionConflict:       http.StatusConflict,
	DuplicateContentHash:  http.StatusConflict,
	PinnedRequiresForce:   http.StatusConflict,
	AutonomousForceDenied: http.StatusForbidden,
	RetentionExpired:      http.StatusGone,
	RateLimited:           http.StatusTooManyRequests,
	PolicyDenied:          http.StatusForbidden,
	ProviderUnavailable:   http.StatusServiceUnavailable,
	Internal:              http.StatusInternalServerError,
}

// Error is a typed error carrying one taxonomy Kind plus a human message
// and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// StatusFor returns the HTTP status code for an error, defaulting to 500
// when the error does not carry a recognized Kind.
func StatusFor(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if status, ok := statusByKind[apiErr.Kind]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// KindOf extracts the Kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return Internal
}
