package errors

import (
	"fmt"
)

// Store-specific error definitions. Each call returns a fresh value so that
// callers may attach context without affecting other errors.

// NewDashboardNotFoundError reports a uid that has no stored entry.
func NewDashboardNotFoundError(uid string) *AppError {
	e := NewNotFoundError("dashboard", uid)
	e.Cause = ErrDashboardNotFound
	return e
}

// NewStoreConnectionError reports a backend that could not be reached.
func NewStoreConnectionError(backend string, err error) *AppError {
	return WrapError(fmt.Errorf("%w: %v", ErrStorageConnectionFailed, err), ErrorTypeStorage, CodeConnectionFailed,
		fmt.Sprintf("failed to connect to %s", backend)).WithContext("backend", backend)
}

// NewStoreReadError reports a failed read of a stored dashboard.
func NewStoreReadError(uid string, err error) *AppError {
	return WrapError(err, ErrorTypeStorage, CodeReadFailed, "failed to read dashboard").WithContext("uid", uid)
}

// NewStoreWriteError reports a failed write of a dashboard.
func NewStoreWriteError(uid string, err error) *AppError {
	return WrapError(err, ErrorTypeStorage, CodeWriteFailed, "failed to write dashboard").WithContext("uid", uid)
}

// NewStoreDeleteError reports a failed delete of a dashboard.
func NewStoreDeleteError(uid string, err error) *AppError {
	return WrapError(err, ErrorTypeStorage, CodeDeleteFailed, "failed to delete dashboard").WithContext("uid", uid)
}

// NewCorruptedDataError reports a stored blob that does not decode.
func NewCorruptedDataError(uid string, err error) *AppError {
	return WrapError(err, ErrorTypeStorage, CodeCorruptedData, "stored dashboard is not valid JSON").WithContext("uid", uid)
}

// NewStoreConfigError reports an unusable store configuration.
func NewStoreConfigError(message string) *AppError {
	return NewStorageError(CodeInvalidConfig, message)
}
