package record

import "errors"

// StoreError represents a domain error from record operations.
//
// These are business logic errors (file not found, access denied, etc.) as
// opposed to infrastructure errors (network failure, disk error). The HTTP
// layer translates StoreError codes to status codes.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// ID is the file identifier related to the error (if applicable)
	ID string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.ID != "" {
		return e.Message + ": " + e.ID
	}
	return e.Message
}

// ErrorCode represents the category of a record error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested file doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrAccessDenied indicates the requester has no sufficient grant
	ErrAccessDenied

	// ErrAlreadyExists indicates a record with the same ID exists
	ErrAlreadyExists

	// ErrInvalidArgument indicates invalid parameters were provided
	// Examples: empty name, unknown permission, sharing with oneself
	ErrInvalidArgument

	// ErrPayloadTooLarge indicates the uploaded payload exceeds the limit
	ErrPayloadTooLarge

	// ErrIOError indicates the durable store or object storage failed
	ErrIOError
)

// String returns the code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "NotFound"
	case ErrAccessDenied:
		return "AccessDenied"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrPayloadTooLarge:
		return "PayloadTooLarge"
	case ErrIOError:
		return "IOError"
	default:
		return "Unknown"
	}
}

// NewNotFoundError returns the error stores use for a missing record.
func NewNotFoundError(id string) *StoreError {
	return &StoreError{Code: ErrNotFound, Message: "file not found", ID: id}
}

// NewAccessDeniedError returns the error used when a requester lacks access.
func NewAccessDeniedError(id string) *StoreError {
	return &StoreError{Code: ErrAccessDenied, Message: "access denied", ID: id}
}

// CodeOf returns the code of err if it is a *StoreError.
func CodeOf(err error) (ErrorCode, bool) {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code, true
	}
	return 0, false
}

// IsNotFoundError reports whether err is a StoreError with ErrNotFound.
func IsNotFoundError(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrNotFound
}

// IsAccessDeniedError reports whether err is a StoreError with ErrAccessDenied.
func IsAccessDeniedError(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrAccessDenied
}
