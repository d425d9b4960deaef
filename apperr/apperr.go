// Package apperr defines the typed error taxonomy shared by every
// component, covering every HTTP-mappable failure class the platform
// surfaces.
package apperr

import "net/http"

// Typed is implemented by every error in the taxonomy so a single Fiber
// error handler can map it to a status code and error code without a type
// switch per call site.
type Typed interface {
	error
	ErrCode() string
	StatusCode() int
}

// FieldDiagnostic describes one failing field in a ValidationError.
type FieldDiagnostic struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Msg    string            `json:"message"`
	Fields []FieldDiagnostic `json:"fields,omitempty"`
}

func (e *ValidationError) Error() string     { return e.Msg }
func (e *ValidationError) ErrCode() string   { return "VALIDATION_ERROR" }
func (e *ValidationError) StatusCode() int   { return http.StatusUnprocessableEntity }
func NewValidation(msg string, fields ...FieldDiagnostic) *ValidationError {
	return &ValidationError{Msg: msg, Fields: fields}
}

// BadRequestError is for malformed request mechanics (bad cursor, bad
// encoding) as opposed to field-level validation, which is 422.
type BadRequestError string

func (e BadRequestError) Error() string   { return string(e) }
func (e BadRequestError) ErrCode() string { return "BAD_REQUEST" }
func (e BadRequestError) StatusCode() int { return http.StatusBadRequest }

type NotFoundError string

func (e NotFoundError) Error() string   { return string(e) }
func (e NotFoundError) ErrCode() string { return "NOT_FOUND" }
func (e NotFoundError) StatusCode() int { return http.StatusNotFound }

type ConflictError string

func (e ConflictError) Error() string   { return string(e) }
func (e ConflictError) ErrCode() string { return "CONFLICT" }
func (e ConflictError) StatusCode() int { return http.StatusConflict }

// AuthError covers both webhook signature failures (401) and admin/cross
// tenant access failures (403); Code chooses which.
type AuthError struct {
	Msg  string
	Code int
}

func (e *AuthError) Error() string   { return e.Msg }
func (e *AuthError) ErrCode() string { return "AUTH_ERROR" }
func (e *AuthError) StatusCode() int { return e.Code }

func Unauthorized(msg string) *AuthError { return &AuthError{Msg: msg, Code: http.StatusUnauthorized} }
func Forbidden(msg string) *AuthError    { return &AuthError{Msg: msg, Code: http.StatusForbidden} }

type RateLimitedError struct {
	Msg        string
	RetryAfter int // seconds
}

func (e *RateLimitedError) Error() string   { return e.Msg }
func (e *RateLimitedError) ErrCode() string { return "RATE_LIMITED" }
func (e *RateLimitedError) StatusCode() int { return http.StatusTooManyRequests }

type UpstreamUnavailableError string

func (e UpstreamUnavailableError) Error() string   { return string(e) }
func (e UpstreamUnavailableError) ErrCode() string { return "UPSTREAM_UNAVAILABLE" }
func (e UpstreamUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

type CircuitOpenError string

func (e CircuitOpenError) Error() string   { return string(e) }
func (e CircuitOpenError) ErrCode() string { return "circuit_breaker_open" }
func (e CircuitOpenError) StatusCode() int { return http.StatusServiceUnavailable }

type PayloadTooLargeError string

func (e PayloadTooLargeError) Error() string   { return string(e) }
func (e PayloadTooLargeError) ErrCode() string { return "PAYLOAD_TOO_LARGE" }
func (e PayloadTooLargeError) StatusCode() int { return http.StatusRequestEntityTooLarge }

type UnsupportedMediaError string

func (e UnsupportedMediaError) Error() string   { return string(e) }
func (e UnsupportedMediaError) ErrCode() string { return "UNSUPPORTED_MEDIA" }
func (e UnsupportedMediaError) StatusCode() int { return http.StatusUnsupportedMediaType }

// InternalError carries a request id for correlation without leaking
// internals to the caller.
type InternalError struct {
	RequestID string
	Cause     error
}

func (e *InternalError) Error() string   { return e.Cause.Error() }
func (e *InternalError) ErrCode() string { return "INTERNAL" }
func (e *InternalError) StatusCode() int { return http.StatusInternalServerError }

func Internal(requestID string, cause error) *InternalError {
	return &InternalError{RequestID: requestID, Cause: cause}
}
