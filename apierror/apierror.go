// Package apierror defines the structured error responses emitted when the
// admission layer terminates a request, plus JSON writing helpers shared by
// the middleware and the monitor endpoints.
package apierror

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
)

// Error represents a structured API error response.
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

type errorResponse struct {
	Error *Error `json:"error"`
}

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is implements errors.Is for comparing error types.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// With returns a copy of the error with a custom message.
func (e *Error) With(message string) *Error {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	return &dup
}

// Predefined sentinel errors for admission decisions.
var (
	ErrRateLimited    = &Error{Type: "rate_limit_error", Code: "limit_exceeded", Message: "Rate limit exceeded", Status: http.StatusTooManyRequests}
	ErrBotDenied      = &Error{Type: "auth_error", Code: "bot_detected", Message: "Request blocked", Status: http.StatusForbidden}
	ErrLoginSaturated = &Error{Type: "capacity_error", Code: "login_saturated", Message: "Too many active users, try again later", Status: http.StatusServiceUnavailable}
	ErrInternal       = &Error{Type: "internal_error", Code: "internal", Message: "Internal server error", Status: http.StatusInternalServerError}
)

// Write serializes err as {"error": {...}} with its status code.
func Write(w http.ResponseWriter, err *Error) {
	writeBody(w, err.Status, errorResponse{Error: err})
}

// WriteJSON serializes body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	writeBody(w, status, body)
}

func writeBody(w http.ResponseWriter, status int, body any) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(body); err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal server error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
