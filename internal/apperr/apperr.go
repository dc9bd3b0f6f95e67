// Package apperr maps failures to the small set of categories shown to users.
package apperr

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Category groups failures by how the user should react to them.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryAuth       Category = "auth"
	CategoryNetwork    Category = "network"
	CategoryServer     Category = "server"
	CategoryUnknown    Category = "unknown"
)

// Error is a user-facing failure. Message is safe to render.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode suggests the HTTP status to answer with when rendering the error.
func (e *Error) StatusCode() int {
	switch e.Category {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryAuth:
		return http.StatusUnauthorized
	case CategoryNetwork, CategoryServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Validation builds a locally detected error; it never involves the network.
func Validation(message string) *Error {
	return &Error{Category: CategoryValidation, Message: message}
}

// StatusError is implemented by transport errors that carry an HTTP status and
// an optional server-provided message.
type StatusError interface {
	error
	HTTPStatus() int
	ServerMessage() string
}

// Normalize converts any error into an *Error. The server message wins when
// present; otherwise fallback is used. nil stays nil.
func Normalize(err error, fallback string) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	var statusErr StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.ServerMessage()
		if msg == "" {
			msg = fallback
		}
		return &Error{Category: categoryForStatus(statusErr.HTTPStatus()), Message: msg, Err: err}
	}

	if isNetwork(err) {
		return &Error{Category: CategoryNetwork, Message: fallback, Err: err}
	}
	return &Error{Category: CategoryUnknown, Message: fallback, Err: err}
}

func categoryForStatus(status int) Category {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CategoryAuth
	case status >= 400 && status < 500:
		return CategoryValidation
	case status >= 500:
		return CategoryServer
	default:
		return CategoryUnknown
	}
}

func isNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
