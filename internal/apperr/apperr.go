// Package apperr defines the typed application error surfaced by every
// entitlement operation: a stable code, a human-readable message and the HTTP
// status the API layer should respond with. Internal store detail never leaks
// into the message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes.
const (
	CodeUserNotFound        = "user_not_found"
	CodeUserTypeNotFound    = "user_type_not_found"
	CodeDatasetNotFound     = "dataset_not_found"
	CodeLicenceNotFound     = "licence_not_found"
	CodeBadLookupKey        = "bad_lookup_key"
	CodeStorageRead         = "storage_read_error"
	CodeStorageWrite        = "storage_write_error"
	CodeCreateUser          = "create_user_error"
	CodeDeleteUser          = "delete_user_error"
	CodeResetAPIKey         = "reset_api_key_error"
	CodeLicenceAgree        = "licence_agree_error"
	CodeAccountHTTP         = "account_api_http_error"
	CodeAccountConn         = "account_api_connection_error"
	CodeAccountTimeout      = "account_api_timeout"
	CodeVerificationHTTP    = "verification_api_http_error"
	CodeVerificationConn    = "verification_api_connection_error"
	CodeVerificationTimeout = "verification_api_timeout"
	CodeObjectStore         = "object_store_error"
)

// Error is a typed application error carrying a stable code and HTTP status.
type Error struct {
	Code    string // Stable machine-readable code.
	Message string // Human-readable message, safe to expose.
	Status  int    // HTTP status for the API layer.
	Err     error  // Wrapped cause, never exposed.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the given code and status.
func New(code string, status int, format string, args ...any) *Error {
	return &Error{Code: code, Status: status, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around a cause. NotFound causes pass through unchanged
// so missing records keep their 404 classification.
func Wrap(err error, code string, status int, format string, args ...any) *Error {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Status == http.StatusNotFound {
		return appErr
	}
	return &Error{Code: code, Status: status, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFound builds a 404 Error.
func NotFound(code string, format string, args ...any) *Error {
	return New(code, http.StatusNotFound, format, args...)
}

// StorageRead wraps a store failure on a read path (500).
func StorageRead(err error) *Error {
	return &Error{Code: CodeStorageRead, Status: http.StatusInternalServerError, Message: "entitlement store read failed", Err: err}
}

// StorageWrite wraps a store failure on a write path (422).
func StorageWrite(err error) *Error {
	return &Error{Code: CodeStorageWrite, Status: http.StatusUnprocessableEntity, Message: "entitlement store write failed", Err: err}
}

// IsNotFound reports whether err is a 404-class application error.
func IsNotFound(err error) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Status == http.StatusNotFound
}

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
