// Package errors provides error types and handling for PolyAnalyst API operations.
package errors

import (
	"errors"
	"fmt"
)

// Error represents a PolyAnalyst API operation error with context about the
// request that failed. It wraps the underlying transport or server error with
// additional context for better debugging.
type Error struct {
	// Op is the operation that failed (e.g., "login", "request", "execute")
	Op string

	// Endpoint is the API endpoint relative to the base URL (if applicable)
	Endpoint string

	// StatusCode is the HTTP status code reported by the server (0 if the
	// request never produced a response)
	StatusCode int

	// Err is the underlying error from the transport or server
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.Endpoint != "" && e.StatusCode != 0 {
		return fmt.Sprintf("polyanalyst.%s %s (status %d): %v", e.Op, e.Endpoint, e.StatusCode, e.Err)
	}
	if e.Endpoint != "" {
		return fmt.Sprintf("polyanalyst.%s %s: %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("polyanalyst.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithEndpoint adds endpoint context to an existing error.
func (e *Error) WithEndpoint(endpoint string) *Error {
	e.Endpoint = endpoint
	return e
}

// WithStatus adds the HTTP status code reported by the server.
func (e *Error) WithStatus(code int) *Error {
	e.StatusCode = code
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// NewEndpointError creates a new Error with endpoint context.
func NewEndpointError(op, endpoint string, err error) *Error {
	return &Error{
		Op:       op,
		Endpoint: endpoint,
		Err:      err,
	}
}

// Sentinel errors for common PolyAnalyst operation failures.
// These can be used with errors.Is() for error checking.
var (
	// ErrConnectivity indicates a network, DNS, or TLS failure reaching the server
	ErrConnectivity = errors.New("polyanalyst: connectivity failure")

	// ErrAuthentication indicates rejected credentials or a failed re-authentication
	ErrAuthentication = errors.New("polyanalyst: authentication failed")

	// ErrNotLoggedIn indicates the server rejected a request for lack of a session
	ErrNotLoggedIn = errors.New("polyanalyst: not logged in to server")

	// ErrOperationLimited indicates the operation is restricted to project
	// owners and administrators
	ErrOperationLimited = errors.New("polyanalyst: operation limited to project owners and administrator")

	// ErrUnsupportedVersion indicates an API version the client does not speak
	ErrUnsupportedVersion = errors.New("polyanalyst: unsupported API version")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("polyanalyst: invalid input")

	// ErrNodeNotFound indicates that no project node matches the given reference
	ErrNodeNotFound = errors.New("polyanalyst: node not found")

	// ErrWrapperNotFound indicates a stale or missing dataset wrapper on the
	// server; callers refresh the wrapper guid and retry
	ErrWrapperNotFound = errors.New("polyanalyst: dataset wrapper not found")

	// ErrRetriesExhausted indicates that the bounded retry budget ran out
	ErrRetriesExhausted = errors.New("polyanalyst: retries exhausted")
)

// OffsetMismatchError reports that the server's committed upload offset
// differs from the offset the client attempted to write at. The upload client
// reacts by re-querying the remote offset and resuming, not by aborting.
type OffsetMismatchError struct {
	// Local is the offset the client attempted to send at
	Local int64

	// Remote is the committed offset reported by the server, or -1 when the
	// server did not report one
	Remote int64
}

// Error implements the error interface.
func (e *OffsetMismatchError) Error() string {
	if e.Remote < 0 {
		return fmt.Sprintf("polyanalyst: upload offset mismatch at %d", e.Local)
	}
	return fmt.Sprintf("polyanalyst: upload offset mismatch: sent at %d, server committed %d", e.Local, e.Remote)
}

// UploadFailedError reports an upload whose retry budget was exhausted.
// Offset carries the last offset acknowledged by the server so the caller can
// resume the transfer later.
type UploadFailedError struct {
	// Offset is the last committed offset acknowledged by the server
	Offset int64

	// Err is the failure that exhausted the retries
	Err error
}

// Error implements the error interface.
func (e *UploadFailedError) Error() string {
	return fmt.Sprintf("polyanalyst: upload failed at offset %d: %v", e.Offset, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *UploadFailedError) Unwrap() error {
	return e.Err
}

// IsAuthentication checks if an error indicates an authentication failure.
// This is a convenience function that handles both sentinel errors and wrapped errors.
func IsAuthentication(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// IsConnectivity checks if an error indicates a network-level failure.
// This is a convenience function that handles both sentinel errors and wrapped errors.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrConnectivity)
}

// IsOffsetMismatch checks if an error is an upload offset mismatch.
func IsOffsetMismatch(err error) bool {
	var e *OffsetMismatchError
	return errors.As(err, &e)
}
