// Package errors provides standardized error handling for the image-api service.
// Every failure in the import pipeline is reported as an *Error carrying a code
// that the HTTP layer maps to a status and a JSON envelope.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the image-api service.
type ErrorCode string

const (
	// Caller errors
	IMG_VALIDATION  ErrorCode = "IMG_VALIDATION"  // Request body failed validation
	IMG_BAD_REQUEST ErrorCode = "IMG_BAD_REQUEST" // Malformed request (bad JSON, wrong method)
	IMG_NOT_FOUND   ErrorCode = "IMG_NOT_FOUND"   // Unknown route or provider

	// Admin policy errors
	IMG_AUTHN ErrorCode = "IMG_AUTHN" // Missing or invalid bearer token
	IMG_AUTHZ ErrorCode = "IMG_AUTHZ" // Token valid but not an admin

	// Provider / pipeline errors
	IMG_CONFIGURATION       ErrorCode = "IMG_CONFIGURATION"       // Provider credentials missing
	IMG_PROVIDER_AUTH       ErrorCode = "IMG_PROVIDER_AUTH"       // Provider rejected the credentials
	IMG_UPSTREAM            ErrorCode = "IMG_UPSTREAM"            // Provider or network failure
	IMG_UNRECOGNIZED_FORMAT ErrorCode = "IMG_UNRECOGNIZED_FORMAT" // Downloaded bytes are not a usable image
	IMG_IMPORT              ErrorCode = "IMG_IMPORT"              // Asset store failed to persist

	// Server errors
	IMG_INTERNAL    ErrorCode = "IMG_INTERNAL"    // Internal server error
	IMG_UNAVAILABLE ErrorCode = "IMG_UNAVAILABLE" // Dependency not ready
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Provider      string      `json:"provider,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`

	cause error
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	e := New(code, message, correlationID)
	e.Details = details
	return e
}

// Wrap creates an Error that keeps err as its cause.
func Wrap(code ErrorCode, err error, message string) *Error {
	e := New(code, message, "")
	e.cause = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: [%s] %s", e.Code, e.Provider, e.Message)
	}
	if e.Details != nil {
		msg = fmt.Sprintf("%s (details: %v)", msg, e.Details)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithProvider tags the error with the provider that produced it.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithCorrelationID returns the error with its correlation id set.
func (e *Error) WithCorrelationID(id string) *Error {
	e.CorrelationID = id
	return e
}

// Configuration reports a missing provider setting.
func Configuration(provider, field string) *Error {
	return New(IMG_CONFIGURATION,
		fmt.Sprintf("%s %s must be provided in the provider options", provider, field), "").
		WithProvider(provider)
}

// Validation reports bad caller input.
func Validation(format string, args ...any) *Error {
	return New(IMG_VALIDATION, fmt.Sprintf(format, args...), "")
}

// ProviderAuthorization reports a 401/403 from a provider.
func ProviderAuthorization(provider string, status int) *Error {
	return New(IMG_PROVIDER_AUTH,
		fmt.Sprintf("%s rejected the access key (HTTP %d); check the configured credentials", provider, status), "").
		WithProvider(provider)
}

// Upstream reports a transport or provider failure.
func Upstream(provider string, err error) *Error {
	e := Wrap(IMG_UPSTREAM, err, fmt.Sprintf("request to %s failed: %v", provider, err))
	return e.WithProvider(provider)
}

// UnrecognizedFormat reports bytes that are not a usable image.
func UnrecognizedFormat(format string, args ...any) *Error {
	return New(IMG_UNRECOGNIZED_FORMAT, fmt.Sprintf(format, args...), "")
}

// Import reports a failure inside the asset store.
func Import(err error) *Error {
	return Wrap(IMG_IMPORT, err, fmt.Sprintf("failed to import image: %v", err))
}

// As returns the *Error in err's chain, if there is one.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of the *Error in err's chain, or IMG_INTERNAL.
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.Code
	}
	return IMG_INTERNAL
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case IMG_BAD_REQUEST:
		return http.StatusBadRequest
	case IMG_AUTHN:
		return http.StatusUnauthorized
	case IMG_AUTHZ:
		return http.StatusForbidden
	case IMG_NOT_FOUND:
		return http.StatusNotFound
	case IMG_PROVIDER_AUTH, IMG_UPSTREAM:
		return http.StatusBadGateway
	case IMG_UNRECOGNIZED_FORMAT:
		return http.StatusUnsupportedMediaType
	case IMG_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		// IMG_CONFIGURATION, IMG_VALIDATION and IMG_IMPORT are 500-class:
		// the admin UI shows the message, there is nothing to retry.
		return http.StatusInternalServerError
	}
}
