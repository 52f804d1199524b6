// internal/apperrors/errors_test.go
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNormalizeKeepsTaggedErrors(t *testing.T) {
	original := New(KindConflict, "already exists")

	got := Normalize(fmt.Errorf("saving: %w", original))
	assert.Equal(t, KindConflict, got.Kind)
	assert.Equal(t, "already exists", got.Message)
}

func TestNormalizeMapsKnownErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
	}{
		{"record not found", gorm.ErrRecordNotFound, KindNotFound},
		{"duplicate key", gorm.ErrDuplicatedKey, KindConflict},
		{"expired token", jwt.ErrTokenExpired, KindAuthExpired},
		{"deadline", context.DeadlineExceeded, KindNetwork},
		{"connection refused", errors.New("dial tcp 10.0.0.1:5432: connection refused"), KindNetwork},
		{"image decode", errors.New("image: failed to decode frame"), KindUnsupportedMediaType},
		{"anything else", errors.New("what even is this"), KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.err)
			require.NotNil(t, got)
			assert.Equal(t, tc.kind, got.Kind)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestNormalizeNilIsNil(t *testing.T) {
	assert.Nil(t, Normalize(nil))
}

func TestRetryableKinds(t *testing.T) {
	assert.True(t, New(KindNetwork, "x").Retryable)
	assert.True(t, New(KindServer, "x").Retryable)
	assert.False(t, New(KindValidation, "x").Retryable)
	assert.False(t, New(KindConflict, "x").Retryable)
	assert.False(t, New(KindNotFound, "x").Retryable)
}

func TestIsKindMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", Validation("bad input"))
	assert.True(t, IsKind(err, KindValidation))
	assert.False(t, IsKind(err, KindConflict))
	assert.False(t, IsKind(nil, KindValidation))
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindValidation))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindConflict))
	assert.Equal(t, http.StatusRequestEntityTooLarge, HTTPStatus(KindPayloadTooLarge))
	assert.Equal(t, http.StatusUnsupportedMediaType, HTTPStatus(KindUnsupportedMediaType))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(KindAuthExpired))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(KindNetwork))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindUnknown))
}
