package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind is the provider failure taxonomy.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindNetworkTransient
	ErrorKindRateLimited
	ErrorKindInvalidCredentials
	ErrorKindServerError
	ErrorKindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNetworkTransient:
		return "network_transient"
	case ErrorKindRateLimited:
		return "rate_limited"
	case ErrorKindInvalidCredentials:
		return "invalid_credentials"
	case ErrorKindServerError:
		return "server_error"
	case ErrorKindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Retryable reports whether the retry manager may attempt the call again.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindNetworkTransient, ErrorKindRateLimited, ErrorKindServerError:
		return true
	default:
		return false
	}
}

// APIError wraps a provider failure with its classification.
type APIError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (%d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError builds a classified provider error.
func NewAPIError(kind ErrorKind, provider string, err error) *APIError {
	return &APIError{Kind: kind, Provider: provider, Err: err}
}

// ClassifyStatus maps a non-2xx HTTP response to the taxonomy.
func ClassifyStatus(provider string, status int, body []byte) *APIError {
	kind := ErrorKindUnknown
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrorKindInvalidCredentials
	case status == http.StatusTooManyRequests:
		kind = ErrorKindRateLimited
	case status >= 500:
		kind = ErrorKindServerError
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	err := fmt.Errorf("http status %d", status)
	if msg != "" {
		err = fmt.Errorf("http status %d: %s", status, msg)
	}
	return &APIError{Kind: kind, Provider: provider, StatusCode: status, Err: err}
}

// Classify wraps an arbitrary fetch error into an APIError. Already-classified
// errors pass through unchanged.
func Classify(provider string, err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewAPIError(ErrorKindNetworkTransient, provider, err)
	case isNetError(err):
		return NewAPIError(ErrorKindNetworkTransient, provider, err)
	case isDecodeError(err):
		return NewAPIError(ErrorKindMalformedResponse, provider, err)
	default:
		return NewAPIError(ErrorKindUnknown, provider, err)
	}
}

func isNetError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// ErrorKindOf extracts the classification, defaulting to unknown.
func ErrorKindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ErrorKindUnknown
}
