package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Error is a non-2xx answer from the API.
type Error struct {
	Status  int
	Message string // server-provided text, may be empty
	Body    []byte
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, http.StatusText(e.Status))
}

// HTTPStatus implements apperr.StatusError.
func (e *Error) HTTPStatus() int { return e.Status }

// ServerMessage implements apperr.StatusError.
func (e *Error) ServerMessage() string { return e.Message }

func newError(status int, body []byte) *Error {
	return &Error{Status: status, Message: extractMessage(body), Body: body}
}

// extractMessage looks for the usual message fields of the API's error bodies.
func extractMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"message", "detail", "error"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
