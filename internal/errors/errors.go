// Package errors defines the protocol error types used throughout Tusflow.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error represents a protocol or storage error with a machine-readable code,
// human-readable message, and the HTTP status code it renders as.
type Error struct {
	// Code is the error code (e.g., "UploadNotFound", "OffsetConflict").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the HTTP status code to return (e.g., 404, 409).
	HTTPStatus int
	// cause is the underlying error, if any.
	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Code, e.HTTPStatus, e.Message, e.cause)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Unwrap returns the underlying cause, enabling errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches two protocol errors by code, so wrapped copies still compare
// equal to their predeclared base value.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithCause returns a copy of the error carrying the given underlying cause.
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.cause = err
	return &cp
}

// WithMessage returns a copy of the error with the message replaced.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

// AsError extracts a protocol *Error from an error chain, falling back to
// ErrInternalError for unclassified failures.
func AsError(err error) *Error {
	var pe *Error
	if stderrors.As(err, &pe) {
		return pe
	}
	return ErrInternalError.WithCause(err)
}

// Predefined protocol errors.
var (
	// ErrLengthRequired is returned when a create request carries neither a
	// declared length nor a deferred-length marker.
	ErrLengthRequired = &Error{
		Code:       "LengthRequired",
		Message:    "Upload-Length or Upload-Defer-Length header required",
		HTTPStatus: 400,
	}

	// ErrTooLarge is returned when the declared length exceeds the maximum
	// upload size.
	ErrTooLarge = &Error{
		Code:       "EntityTooLarge",
		Message:    "Upload exceeds the maximum allowed size",
		HTTPStatus: 413,
	}

	// ErrNotFound is returned when no session exists for the upload id.
	ErrNotFound = &Error{
		Code:       "UploadNotFound",
		Message:    "Upload not found",
		HTTPStatus: 404,
	}

	// ErrOffsetConflict is returned when the asserted offset does not match
	// the session's current offset. The handler echoes the true offset in the
	// Upload-Offset response header.
	ErrOffsetConflict = &Error{
		Code:       "OffsetConflict",
		Message:    "Upload-Offset header does not match the current offset",
		HTTPStatus: 409,
	}

	// ErrInvalidOffset is returned when the Upload-Offset header is missing
	// or not a valid non-negative integer.
	ErrInvalidOffset = &Error{
		Code:       "InvalidOffset",
		Message:    "Invalid Upload-Offset header",
		HTTPStatus: 409,
	}

	// ErrInvalidContentType is returned when an append request does not carry
	// the offset octet-stream content type.
	ErrInvalidContentType = &Error{
		Code:       "InvalidContentType",
		Message:    "Content-Type must be application/offset+octet-stream",
		HTTPStatus: 415,
	}

	// ErrEmptyChunk is returned when an append request carries no body bytes.
	ErrEmptyChunk = &Error{
		Code:       "EmptyChunk",
		Message:    "Empty chunk",
		HTTPStatus: 400,
	}

	// ErrChecksumMismatch is returned when the chunk digest does not match
	// the Upload-Checksum header. 460 is the non-standard client-error code
	// this protocol uses for checksum failures.
	ErrChecksumMismatch = &Error{
		Code:       "ChecksumMismatch",
		Message:    "Checksum verification failed",
		HTTPStatus: 460,
	}

	// ErrUnsupportedAlgorithm is returned when the Upload-Checksum header
	// names an algorithm the server does not support.
	ErrUnsupportedAlgorithm = &Error{
		Code:       "UnsupportedChecksumAlgorithm",
		Message:    "Unsupported checksum algorithm",
		HTTPStatus: 400,
	}

	// ErrUnsupportedVersion is returned when the client's protocol version is
	// not supported.
	ErrUnsupportedVersion = &Error{
		Code:       "UnsupportedVersion",
		Message:    "Unsupported Tus version",
		HTTPStatus: 412,
	}

	// ErrUnsupportedConcat is returned for writes to final-concatenation
	// sessions. Byte assembly from referenced partial uploads is an explicit
	// extension point, not an implemented merge.
	ErrUnsupportedConcat = &Error{
		Code:       "UnsupportedConcatenation",
		Message:    "Writes to final concatenation uploads are not supported",
		HTTPStatus: 400,
	}

	// ErrInvalidDeferredLength is returned when a deferred length is resolved
	// to a value below the current offset or above the maximum size, or set
	// on a session whose length is already known.
	ErrInvalidDeferredLength = &Error{
		Code:       "InvalidDeferredLength",
		Message:    "Invalid Upload-Length for deferred-length upload",
		HTTPStatus: 400,
	}

	// ErrStorageFailure is returned when a backend or metadata-store call has
	// exhausted its retries.
	ErrStorageFailure = &Error{
		Code:       "StorageFailure",
		Message:    "Storage operation failed after retries",
		HTTPStatus: 500,
	}

	// ErrBackendInitFailure is returned when the backend multipart upload
	// cannot be initiated.
	ErrBackendInitFailure = &Error{
		Code:       "BackendInitFailure",
		Message:    "Failed to initialize multipart upload",
		HTTPStatus: 500,
	}

	// ErrPartUploadFailure is returned when a backend part upload fails or
	// returns no tag.
	ErrPartUploadFailure = &Error{
		Code:       "PartUploadFailure",
		Message:    "Failed to upload part to storage backend",
		HTTPStatus: 500,
	}

	// ErrIncompleteUpload is returned at finalization when the backend's
	// recorded part count does not match the expected count.
	ErrIncompleteUpload = &Error{
		Code:       "IncompleteUpload",
		Message:    "Missing parts in multipart upload",
		HTTPStatus: 500,
	}

	// ErrPartTooSmall is returned at finalization when a non-final part is
	// below the backend's minimum part size.
	ErrPartTooSmall = &Error{
		Code:       "PartTooSmall",
		Message:    "Part is smaller than the minimum allowed size",
		HTTPStatus: 413,
	}

	// ErrCircuitOpen is returned while the circuit breaker is rejecting
	// calls. Rendered as 503 so clients retry with backoff.
	ErrCircuitOpen = &Error{
		Code:       "CircuitOpen",
		Message:    "Storage backend temporarily unavailable",
		HTTPStatus: 503,
	}

	// ErrUploadFailed is returned when chunk orchestration fails after the
	// backend upload has been aborted.
	ErrUploadFailed = &Error{
		Code:       "UploadFailed",
		Message:    "Upload failed",
		HTTPStatus: 500,
	}

	// ErrInternalError is returned for unexpected internal failures.
	ErrInternalError = &Error{
		Code:       "InternalError",
		Message:    "An unexpected error occurred",
		HTTPStatus: 500,
	}
)

// StorageFailure wraps the last error of an exhausted retry loop, recording
// the attempt count in the message.
func StorageFailure(attempts int, lastErr error) *Error {
	e := ErrStorageFailure.WithCause(lastErr)
	e.Message = fmt.Sprintf("Storage operation failed after %d attempts", attempts)
	return e
}
