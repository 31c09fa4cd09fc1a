// Package errs provides the error taxonomy shared by all tidestore
// components. This is a leaf package with no internal dependencies, designed
// to be imported by stores, engines, workers, and the HTTP layer without
// causing circular imports.
//
// Import graph: errs <- stores <- engines <- api
package errs

import (
	"errors"
	"fmt"
)

// Code classifies an error for clients and for the HTTP layer.
type Code string

const (
	// CodeValidation indicates malformed input or violated constraints.
	CodeValidation Code = "VALIDATION_ERROR"

	// CodeAuthentication indicates an absent, invalid, or expired credential.
	CodeAuthentication Code = "AUTHENTICATION_ERROR"

	// CodeAuthorization indicates the authenticated principal lacks access.
	CodeAuthorization Code = "AUTHORIZATION_ERROR"

	// CodeNotFound indicates the resource is absent or soft-deleted.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict indicates a uniqueness violation (email, folder name).
	CodeConflict Code = "CONFLICT"

	// CodeSessionExpired indicates the upload session is absent or expired.
	CodeSessionExpired Code = "SESSION_EXPIRED"

	// CodeFileSizeLimit indicates the file or request body exceeds its cap.
	CodeFileSizeLimit Code = "FILE_SIZE_LIMIT"

	// CodeRateLimit indicates the sliding window is full.
	CodeRateLimit Code = "RATE_LIMIT_EXCEEDED"

	// CodeChunkValidation indicates an invalid chunk index, size, or hash.
	CodeChunkValidation Code = "CHUNK_VALIDATION_ERROR"

	// CodeHashMismatch indicates the assembled hash differs from the expected one.
	CodeHashMismatch Code = "HASH_MISMATCH"

	// CodeUploadIncomplete indicates complete was called with missing chunks.
	CodeUploadIncomplete Code = "UPLOAD_INCOMPLETE"

	// CodeInvalidRange indicates a malformed or unsatisfiable Range header.
	CodeInvalidRange Code = "INVALID_RANGE"

	// CodeStorage indicates a backend I/O failure.
	CodeStorage Code = "STORAGE_ERROR"

	// CodeIPBlocked indicates the client IP's abuse score passed the threshold.
	CodeIPBlocked Code = "IP_BLOCKED"

	// CodeServiceUnavailable indicates a required backing service is down.
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"

	// CodeInternal is the unclassified fallback.
	CodeInternal Code = "INTERNAL_ERROR"
)

// statusCodes maps taxonomy codes to their HTTP analogs.
var statusCodes = map[Code]int{
	CodeValidation:         400,
	CodeAuthentication:     401,
	CodeAuthorization:      403,
	CodeNotFound:           404,
	CodeConflict:           409,
	CodeSessionExpired:     410,
	CodeFileSizeLimit:      413,
	CodeRateLimit:          429,
	CodeChunkValidation:    400,
	CodeHashMismatch:       400,
	CodeUploadIncomplete:   400,
	CodeInvalidRange:       416,
	CodeStorage:            500,
	CodeIPBlocked:          403,
	CodeServiceUnavailable: 503,
	CodeInternal:           500,
}

// HTTPStatus returns the HTTP status analog for the code.
func (c Code) HTTPStatus() int {
	if s, ok := statusCodes[c]; ok {
		return s
	}
	return 500
}

// Error is a typed error carrying a taxonomy code, an HTTP status analog,
// and optional structured context (fields, chunkIndex, retryAfter, reasons).
type Error struct {
	Code       Code
	StatusCode int
	Message    string
	Context    map[string]any

	// Cause is the wrapped underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// With attaches a context key/value pair and returns the error.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a typed error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		StatusCode: code.HTTPStatus(),
		Message:    message,
	}
}

// Wrap creates a typed error wrapping an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:       code,
		StatusCode: code.HTTPStatus(),
		Message:    message,
		Cause:      cause,
	}
}

// Newf creates a typed error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// CodeOf extracts the taxonomy code from err, or CodeInternal when the error
// carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given taxonomy code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Validation creates a VALIDATION_ERROR.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// NotFound creates a NOT_FOUND for the named resource.
func NotFound(resource string) *Error {
	return Newf(CodeNotFound, "%s not found", resource)
}

// Conflict creates a CONFLICT.
func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// Authentication creates an AUTHENTICATION_ERROR.
func Authentication(message string) *Error {
	return New(CodeAuthentication, message)
}

// Authorization creates an AUTHORIZATION_ERROR.
func Authorization(message string) *Error {
	return New(CodeAuthorization, message)
}

// SessionExpired creates a SESSION_EXPIRED for the given session.
func SessionExpired(sessionID string) *Error {
	return New(CodeSessionExpired, "upload session not found or expired").
		With("sessionId", sessionID)
}

// ChunkValidation creates a CHUNK_VALIDATION_ERROR for the given chunk.
func ChunkValidation(message string, chunkIndex int) *Error {
	return New(CodeChunkValidation, message).With("chunkIndex", chunkIndex)
}

// Storage wraps a backend I/O failure as STORAGE_ERROR.
func Storage(message string, cause error) *Error {
	return Wrap(CodeStorage, message, cause)
}

// Internal wraps an unclassified failure as INTERNAL_ERROR.
func Internal(message string, cause error) *Error {
	return Wrap(CodeInternal, message, cause)
}
