package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Common application errors
var (
	// Validation errors
	ErrMissingTitle     = errors.New("dashboard title is required")
	ErrMissingUID       = errors.New("dashboard uid is required")
	ErrMissingPanelType = errors.New("panel type is required")
	ErrInvalidGridPos   = errors.New("invalid panel grid position")
	ErrPanelOverlap     = errors.New("panel overlaps another panel")
	ErrDuplicateName    = errors.New("duplicate variable name")

	// Lookup errors
	ErrDashboardNotFound = errors.New("dashboard not found")
	ErrPanelNotFound     = errors.New("panel not found")
	ErrVariableNotFound  = errors.New("variable not found")
	ErrNoActiveDashboard = errors.New("no active dashboard")
	ErrSessionNotFound   = errors.New("session not found")

	// Storage errors
	ErrStorageConnectionFailed = errors.New("storage connection failed")
	ErrStorageTimeout          = errors.New("storage operation timeout")

	// Query errors
	ErrNoExecutor   = errors.New("no query executor for datasource")
	ErrQueryTimeout = errors.New("query timeout")

	// Lifecycle errors
	ErrEngineClosed  = errors.New("engine closed")
	ErrSessionClosed = errors.New("session closed")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeQuery         ErrorType = "query"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeInternal      ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Field      string                 `json:"field,omitempty"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field %q)", msg, e.Field)
	}
	if e.Details != "" {
		msg = fmt.Sprintf("%s - %s", msg, e.Details)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Cause:      err,
		Retryable:  isRetryable(err),
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// NewValidationError creates a validation error naming the offending field.
func NewValidationError(field, message string) *AppError {
	e := NewAppError(ErrorTypeValidation, CodeInvalidInput, message)
	e.Field = field
	return e
}

// NewNotFoundError creates a lookup error for the given resource kind and id.
func NewNotFoundError(resource, id string) *AppError {
	return NewAppError(ErrorTypeNotFound, CodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("id", id)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// WrapStorageError wraps a store failure. Not-found errors pass through untouched.
func WrapStorageError(err error, op, message string) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsStorage(err) {
		return err
	}
	return WrapError(err, ErrorTypeStorage, CodeStorageError, message).WithContext("operation", op)
}

// NewQueryError creates a query execution error
func NewQueryError(code, message string) *AppError {
	return NewAppError(ErrorTypeQuery, code, message)
}

// WrapQueryError wraps a query execution failure for a panel.
func WrapQueryError(err error, panelID int) error {
	if err == nil {
		return nil
	}
	if IsQuery(err) {
		return err
	}
	return WrapError(err, ErrorTypeQuery, CodeQueryFailed, "query execution failed").
		WithContext("panel_id", panelID)
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(message string) *AppError {
	return WrapError(ErrInvalidConfiguration, ErrorTypeConfiguration, CodeInvalidConfig, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, CodeInternalError, message)
}

// TypeOf returns the AppError type found in err's chain, or "" when there is none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsValidation reports whether err carries a validation AppError.
func IsValidation(err error) bool { return TypeOf(err) == ErrorTypeValidation }

// IsNotFound reports whether err carries a not-found AppError.
func IsNotFound(err error) bool { return TypeOf(err) == ErrorTypeNotFound }

// IsStorage reports whether err carries a storage AppError.
func IsStorage(err error) bool { return TypeOf(err) == ErrorTypeStorage }

// IsQuery reports whether err carries a query AppError.
func IsQuery(err error) bool { return TypeOf(err) == ErrorTypeQuery }

// IsTimeout reports whether err was caused by a deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrQueryTimeout) || errors.Is(err, ErrStorageTimeout)
}

// FieldOf returns the field named by a validation error.
func FieldOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

// HTTPStatus maps any error to the response status the API should send.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// getDefaultHTTPStatus returns the default HTTP status for an error type
func getDefaultHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeStorage, ErrorTypeQuery:
		return http.StatusBadGateway
	case ErrorTypeConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// isRetryable determines if an error is retryable
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrStorageConnectionFailed):
		return true
	case errors.Is(err, ErrStorageTimeout):
		return true
	case errors.Is(err, ErrQueryTimeout):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

// ValidationErrorDetail represents detailed validation error information
type ValidationErrorDetail struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
}

// ValidationErrors collects every problem found in a document.
type ValidationErrors struct {
	Message string                  `json:"message"`
	Errors  []ValidationErrorDetail `json:"errors"`
}

// Error implements the error interface for ValidationErrors
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return ve.Message
	}
	return fmt.Sprintf("%s: %s: %s", ve.Message, ve.Errors[0].Field, ve.Errors[0].Message)
}

// Add adds a validation error
func (ve *ValidationErrors) Add(field, code, message string, value interface{}) {
	ve.Errors = append(ve.Errors, ValidationErrorDetail{
		Field:   field,
		Value:   value,
		Message: message,
		Code:    code,
	})
}

// HasErrors checks if there are any validation errors
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// First returns the first collected problem as a validation AppError.
func (ve *ValidationErrors) First() *AppError {
	if len(ve.Errors) == 0 {
		return nil
	}
	d := ve.Errors[0]
	e := NewValidationError(d.Field, d.Message)
	e.Code = d.Code
	return e
}

// NewValidationErrors creates a new ValidationErrors instance
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Message: "Validation failed",
		Errors:  make([]ValidationErrorDetail, 0),
	}
}

// Error codes for different error scenarios
const (
	// Validation error codes
	CodeInvalidInput     = "INVALID_INPUT"
	CodeMissingField     = "MISSING_FIELD"
	CodeInvalidFormat    = "INVALID_FORMAT"
	CodeOutOfRange       = "OUT_OF_RANGE"
	CodeInvalidTimeRange = "INVALID_TIME_RANGE"
	CodeDuplicate        = "DUPLICATE"
	CodeOverlap          = "OVERLAP"

	// Lookup error codes
	CodeNotFound = "NOT_FOUND"

	// Storage error codes
	CodeStorageError     = "STORAGE_ERROR"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeNotConnected     = "NOT_CONNECTED"
	CodeWriteFailed      = "WRITE_FAILED"
	CodeReadFailed       = "READ_FAILED"
	CodeDeleteFailed     = "DELETE_FAILED"
	CodeCorruptedData    = "CORRUPTED_DATA"

	// Query error codes
	CodeQueryFailed = "QUERY_FAILED"
	CodeNoExecutor  = "NO_EXECUTOR"

	// Configuration error codes
	CodeInvalidConfig = "INVALID_CONFIGURATION"

	// Internal error codes
	CodeInternalError = "INTERNAL_ERROR"
)
