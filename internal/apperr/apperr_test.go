package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatusErr struct {
	status int
	msg    string
}

func (e *fakeStatusErr) Error() string         { return fmt.Sprintf("status %d", e.status) }
func (e *fakeStatusErr) HTTPStatus() int       { return e.status }
func (e *fakeStatusErr) ServerMessage() string { return e.msg }

func TestNormalizeNil(t *testing.T) {
	assert.Nil(t, Normalize(nil, "fallback"))
}

func TestNormalizeServerMessageWins(t *testing.T) {
	err := fmt.Errorf("login: %w", &fakeStatusErr{status: http.StatusUnauthorized, msg: "Invalid credentials"})
	got := Normalize(err, "Login failed. Please try again.")
	require.NotNil(t, got)
	assert.Equal(t, "Invalid credentials", got.Message)
	assert.Equal(t, CategoryAuth, got.Category)
	assert.Equal(t, http.StatusUnauthorized, got.StatusCode())
}

func TestNormalizeFallsBack(t *testing.T) {
	got := Normalize(&fakeStatusErr{status: http.StatusInternalServerError}, "Login failed. Please try again.")
	assert.Equal(t, "Login failed. Please try again.", got.Message)
	assert.Equal(t, CategoryServer, got.Category)

	got = Normalize(&fakeStatusErr{status: http.StatusBadRequest}, "nope")
	assert.Equal(t, CategoryValidation, got.Category)
}

func TestNormalizeNetworkAndUnknown(t *testing.T) {
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	assert.Equal(t, CategoryNetwork, Normalize(opErr, "x").Category)
	assert.Equal(t, CategoryNetwork, Normalize(context.DeadlineExceeded, "x").Category)

	got := Normalize(errors.New("boom"), "Something went wrong")
	assert.Equal(t, CategoryUnknown, got.Category)
	assert.Equal(t, "Something went wrong", got.Message)
	assert.Equal(t, http.StatusInternalServerError, got.StatusCode())
}

func TestNormalizeKeepsAppError(t *testing.T) {
	v := Validation("Passwords do not match")
	got := Normalize(fmt.Errorf("wrap: %w", v), "other")
	assert.Same(t, v, got)
	assert.Equal(t, http.StatusBadRequest, got.StatusCode())
}
