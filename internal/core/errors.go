// Package core provides the shared types, endpoint identifiers and error
// taxonomy for the Steam data cache.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnknownEndpoint is returned when an endpoint name does not map to a
// supported logical endpoint.
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// ErrorKind classifies where a failure originated.
type ErrorKind string

const (
	// KindTransport covers network failures, timeouts and aborted calls.
	KindTransport ErrorKind = "transport_error"
	// KindMalformedResponse covers non-2xx statuses, non-JSON content types
	// and bodies that do not match the expected endpoint schema.
	KindMalformedResponse ErrorKind = "malformed_response_error"
	// KindCacheCorruption covers unreadable or unparsable persisted entries.
	KindCacheCorruption ErrorKind = "cache_corruption_error"
	// KindAggregate is raised when a whole batch yields no usable data.
	KindAggregate ErrorKind = "aggregate_error"
	// KindInvalidRequest covers bad input from callers of the HTTP API.
	KindInvalidRequest ErrorKind = "invalid_request_error"
	// KindNotFound covers lookups for data that is not loaded.
	KindNotFound ErrorKind = "not_found_error"
)

// FetchError is the error type used across the fetch pipeline.
type FetchError struct {
	Kind       ErrorKind `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *FetchError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Endpoint, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *FetchError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the status code used when the error reaches an
// HTTP client of this service.
func (e *FetchError) HTTPStatusCode() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTransport, KindMalformedResponse, KindAggregate:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *FetchError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.Kind,
		"message": e.Message,
	}
	if e.Endpoint != "" {
		body["endpoint"] = e.Endpoint
	}
	return map[string]interface{}{"error": body}
}

// NewTransportError creates an error for a failed or timed out call.
func NewTransportError(endpoint Endpoint, message string, err error) *FetchError {
	return &FetchError{
		Kind:     KindTransport,
		Message:  message,
		Endpoint: endpoint.String(),
		Err:      err,
	}
}

// NewMalformedResponseError creates an error for a response that cannot be used.
// statusCode is the upstream status, or zero when the status was fine.
func NewMalformedResponseError(endpoint Endpoint, statusCode int, message string, err error) *FetchError {
	return &FetchError{
		Kind:       KindMalformedResponse,
		Message:    message,
		StatusCode: statusCode,
		Endpoint:   endpoint.String(),
		Err:        err,
	}
}

// NewCacheCorruptionError creates an error for a stored entry that cannot be decoded.
func NewCacheCorruptionError(key string, err error) *FetchError {
	return &FetchError{
		Kind:    KindCacheCorruption,
		Message: "unreadable cache entry " + key,
		Err:     err,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *FetchError {
	return &FetchError{
		Kind:    KindInvalidRequest,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *FetchError {
	return &FetchError{
		Kind:    KindNotFound,
		Message: message,
	}
}

// IsKind reports whether err is a FetchError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}
