package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"plate/api/internal/logging"
)

var log = logging.Component("client")

// ErrNotLoaded is returned by view operations on ids the view does not hold.
var ErrNotLoaded = errors.New("not loaded")

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func IsNotFound(err error) bool     { return StatusOf(err) == http.StatusNotFound }
func IsUnauthorized(err error) bool { return StatusOf(err) == http.StatusUnauthorized }

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Code    string          `json:"code"`
		Error   string          `json:"error"`
		Details json.RawMessage `json:"details"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Code == "" {
		body.Code = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Code: body.Code, Message: body.Error, Details: body.Details}
}

// ErrorHandler receives failures of background SDK calls. Label names the
// operation that failed.
type ErrorHandler interface {
	Handle(label string, err error)
}

type ErrorHandlerFunc func(label string, err error)

func (f ErrorHandlerFunc) Handle(label string, err error) { f(label, err) }

// LogErrors writes every failure as a warning.
var LogErrors ErrorHandler = ErrorHandlerFunc(func(label string, err error) {
	entry := log.WithError(err).WithField("label", label)
	if status := StatusOf(err); status != 0 {
		entry = entry.WithField("status", status)
	}
	entry.Warn("request failed")
})
