package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusForKnownKinds(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
	}{
		{BadRequest, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{VersionConflict, http.StatusConflict},
		{DuplicateContentHash, http.StatusConflict},
		{PinnedRequiresForce, http.StatusConflict},
		{AutonomousForceDenied, http.StatusForbidden},
		{RetentionExpired, http.StatusGone},
		{RateLimited, http.StatusTooManyRequests},
		{PolicyDenied, http.StatusForbidden},
		{ProviderUnavailable, http.StatusServiceUnavailable},
		{Internal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		err := New(c.kind, "boom")
		assert.Equal(t, c.status, StatusFor(err), "kind %s", c.kind)
		assert.Equal(t, c.kind, KindOf(err))
	}
}

func TestStatusForUnrecognizedError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("plain")))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(NotFound, "memory missing", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "underlying")
	assert.Contains(t, err.Error(), "memory missing")
}

func TestErrorsAsRoundTrip(t *testing.T) {
	var target *Error
	err := New(RateLimited, "cooldown active")
	if !errors.As(err, &target) {
		t.Fatalf("expected errors.As to unwrap *Error")
	}
	assert.Equal(t, RateLimited, target.Kind)
}
