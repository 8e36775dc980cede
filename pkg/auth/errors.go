package auth

import (
	"errors"
	"fmt"
)

// Verification failure kinds. Use errors.Is against a returned error to
// branch on the kind; the concrete value is always a *VerificationError.
var (
	// ErrMissingCredential means no credential was presented. The authority
	// is never contacted in that case.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredential means the authority answered and rejected the
	// credential.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrAuthorityUnavailable means the authority could not be reached in
	// time (timeout, refused connection, DNS failure) or reported itself
	// unavailable. Retrying may succeed.
	ErrAuthorityUnavailable = errors.New("identity authority unavailable")

	// ErrProtocolError means the authority answered with something that is
	// not a verification response.
	ErrProtocolError = errors.New("malformed response from identity authority")
)

// VerificationError describes why a credential could not be resolved to an
// Identity.
type VerificationError struct {
	// Kind is one of the Err* sentinels above
	Kind error

	// Status is the HTTP status returned by the authority (0 if it never answered)
	Status int

	// Message is the authority's human-readable reason, if any
	Message string

	// Payload is the authority's raw response body, forwarded verbatim to
	// callers when the authority rejected the credential
	Payload []byte

	// Err is the underlying transport or decoding error, if any
	Err error
}

func (e *VerificationError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%v: authority returned status %d", e.Kind, e.Status)
	default:
		return e.Kind.Error()
	}
}

func (e *VerificationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// AsVerificationError extracts the *VerificationError from err.
func AsVerificationError(err error) (*VerificationError, bool) {
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
