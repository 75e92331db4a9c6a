package errors

import (
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeNotFound represents a missing stored token or resource
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeReauthRequired represents a permanently invalid refresh grant
	ErrTypeReauthRequired ErrorType = "reauth_required"
	// ErrTypeRefreshTransient represents a retryable refresh failure
	ErrTypeRefreshTransient ErrorType = "refresh_transient"
	// ErrTypeRefreshCluster represents a cluster-wide refresh wait that produced nothing
	ErrTypeRefreshCluster ErrorType = "refresh_cluster"
	// ErrTypeCircuitOpen represents a call denied by an open circuit breaker
	ErrTypeCircuitOpen ErrorType = "circuit_open"
	// ErrTypeClient represents a 4xx response after retries
	ErrTypeClient ErrorType = "client_error"
	// ErrTypeServer represents a 5xx response after retries
	ErrTypeServer ErrorType = "server_error"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeNetwork represents generic network failures
	ErrTypeNetwork ErrorType = "network"
	// ErrTypeDecryption represents a blob no configured key could decrypt
	ErrTypeDecryption ErrorType = "decryption"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCredential attaches the (userID, provider) identity to the error context.
// Only the identity is recorded, never token material.
func (e *AppError) WithCredential(userID, provider string) *AppError {
	return e.WithContext("user_id", userID).WithContext("provider", provider)
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// ReauthRequiredError creates an error for a permanently revoked or invalid grant.
// The stored token has been deleted and only a new authorization flow can recover.
func ReauthRequiredError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeReauthRequired,
		Message: msg,
		Cause:   cause,
	}
}

// RefreshTransientError creates an error for a refresh failure the caller may retry
func RefreshTransientError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeRefreshTransient,
		Message: msg,
		Cause:   cause,
	}
}

// RefreshClusterError creates an error for a distributed refresh wait that timed out
// without a fresh token materializing in the store
func RefreshClusterError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeRefreshCluster,
		Message: msg,
	}
}

// CircuitOpenError creates an error for a call denied without network I/O
func CircuitOpenError(provider string) *AppError {
	return &AppError{
		Type:    ErrTypeCircuitOpen,
		Message: fmt.Sprintf("circuit breaker open for %s", provider),
	}
}

// ClientError creates a new client (4xx) error
func ClientError(status int, msg string) *AppError {
	return &AppError{
		Type:    ErrTypeClient,
		Message: msg,
		Code:    fmt.Sprintf("%d", status),
	}
}

// ServerError creates a new server (5xx) error
func ServerError(status int, msg string) *AppError {
	return &AppError{
		Type:    ErrTypeServer,
		Message: msg,
		Code:    fmt.Sprintf("%d", status),
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
	}
}

// NetworkError creates a new generic network error
func NetworkError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeNetwork,
		Message: msg,
		Cause:   cause,
	}
}

// DecryptionError creates a new decryption failure error. It intentionally carries
// no detail about which key failed or how many were attempted.
func DecryptionError() *AppError {
	return &AppError{
		Type:    ErrTypeDecryption,
		Message: "unable to decrypt stored credential",
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return ErrTypeInternal
	}

	return appErr.Type
}
