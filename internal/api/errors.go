package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType classifies a failure for the wire-level error envelope.
// The set is part of the external contract; clients switch on it.
type ErrorType string

const (
	ErrorTypeInvalidRequest   ErrorType = "invalid_request"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeTimeout          ErrorType = "timeout_error"
	ErrorTypeAPI              ErrorType = "api_error"
	ErrorTypeStreaming        ErrorType = "streaming_error"
	ErrorTypeProcessing       ErrorType = "processing_error"
	ErrorTypeStorage          ErrorType = "storage_error"
	ErrorTypeVectorStore      ErrorType = "vector_store_error"
	ErrorTypeToolNotFound     ErrorType = "tool_not_found"
	ErrorTypeToolTimeout      ErrorType = "tool_timeout"
	ErrorTypeInvalidArguments ErrorType = "invalid_arguments"
	ErrorTypeMCPUnavailable   ErrorType = "mcp_unavailable"
)

// Error is the typed error envelope returned on every user-visible failure.
// Param carries the JSON path of the offending field for validation errors.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Status overrides the default HTTP mapping when the upstream provider
	// reported one (api_error only).
	Status int `json:"-"`
}

func (e *Error) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatus returns the HTTP status code for this error per the taxonomy.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Type {
	case ErrorTypeInvalidRequest, ErrorTypeInvalidArguments:
		return http.StatusBadRequest
	case ErrorTypeNotFound, ErrorTypeToolNotFound:
		return http.StatusNotFound
	case ErrorTypeTimeout, ErrorTypeToolTimeout:
		return http.StatusRequestTimeout
	case ErrorTypeMCPUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates an error envelope with the current timestamp.
func NewError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message, Timestamp: time.Now().UTC()}
}

// NewErrorf creates an error envelope with a formatted message.
func NewErrorf(t ErrorType, format string, args ...any) *Error {
	return NewError(t, fmt.Sprintf(format, args...))
}

// InvalidRequest creates an invalid_request error pointing at a JSON path.
func InvalidRequest(param, message string) *Error {
	e := NewError(ErrorTypeInvalidRequest, message)
	e.Param = param
	return e
}

// AsError extracts an *Error from err, wrapping unknown errors as
// processing_error so callers always have an envelope to serialize.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewError(ErrorTypeProcessing, err.Error())
}

// upstreamErrorBody is the `{"error": {...}}` shape providers return.
type upstreamErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   string `json:"param"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// ParseUpstreamError maps a provider error body to an api_error envelope,
// preserving the original message/type/param/code fields when the body is
// the standard `{"error":{...}}` JSON shape.
func ParseUpstreamError(status int, body []byte) *Error {
	e := NewError(ErrorTypeAPI, "upstream provider error")
	e.Status = status

	var parsed upstreamErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		e.Message = parsed.Error.Message
		e.Param = parsed.Error.Param
		if parsed.Error.Type != "" {
			e.Code = parsed.Error.Type
		}
		if code, ok := parsed.Error.Code.(string); ok && code != "" {
			e.Code = code
		}
		return e
	}
	if len(body) > 0 {
		e.Message = string(body)
	}
	return e
}
