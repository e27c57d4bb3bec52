package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAndHasCode(t *testing.T) {
	base := errors.New("connection reset")
	err := Wrap(base, CodeInternal, "failed to save record")

	require.Error(t, err)
	assert.True(t, HasCode(err, CodeInternal))
	assert.False(t, HasCode(err, CodeNotFound))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "failed to save record: connection reset", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestHasCodeThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeNotFound, "payee not found"))
	assert.True(t, HasCode(err, CodeNotFound))
}

func TestIsMatchesCodeAndMessage(t *testing.T) {
	err := New(CodeUnauthorized, "invalid token")
	assert.ErrorIs(t, err, New(CodeUnauthorized, "invalid token"))
	assert.NotErrorIs(t, err, New(CodeUnauthorized, "expired token"))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:         http.StatusBadRequest,
		CodeBadRequest:         http.StatusBadRequest,
		CodeUnauthorized:       http.StatusUnauthorized,
		CodeNotFound:           http.StatusNotFound,
		CodeConflict:           http.StatusConflict,
		CodeRateLimited:        http.StatusTooManyRequests,
		CodeInternal:           http.StatusInternalServerError,
		CodeInvariantViolation: http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}
