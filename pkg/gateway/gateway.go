// Package gateway guards protected operations by resolving the caller's
// bearer credential through an auth.Verifier.
//
// The gateway translates verification outcomes into HTTP decisions:
//
//	missing credential     -> 401, authority not contacted
//	authority unavailable  -> 503, the client may retry shortly
//	rejected credential    -> the authority's own status and payload (401 if none)
//	malformed response     -> 401
//
// On success the resolved auth.Identity travels in the request context.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/auth"
)

// AuthzError is a refusal ready to be written to an HTTP client.
type AuthzError struct {
	// Status is the HTTP status code to answer with
	Status int

	// Body is the JSON payload to answer with
	Body []byte

	// Cause is the verification error that led to the refusal
	Cause error
}

func (e *AuthzError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return http.StatusText(e.Status)
}

func (e *AuthzError) Unwrap() error {
	return e.Cause
}

// Write sends the refusal to w.
func (e *AuthzError) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}

// Gateway resolves request credentials to identities.
type Gateway struct {
	verifier auth.Verifier
}

// New creates a Gateway backed by verifier.
func New(verifier auth.Verifier) *Gateway {
	if verifier == nil {
		panic("gateway requires a verifier")
	}
	return &Gateway{verifier: verifier}
}

// Authorize extracts the bearer credential from headers and verifies it.
func (g *Gateway) Authorize(ctx context.Context, headers http.Header) (auth.Identity, *AuthzError) {
	credential := auth.BearerToken(headers.Get("Authorization"))
	if credential == "" {
		return auth.Identity{}, &AuthzError{
			Status: http.StatusUnauthorized,
			Body:   messageBody("No token provided"),
			Cause:  &auth.VerificationError{Kind: auth.ErrMissingCredential},
		}
	}

	identity, err := g.verifier.Verify(ctx, credential)
	if err != nil {
		return auth.Identity{}, Translate(err)
	}

	return identity, nil
}

// Translate maps a verification error to an HTTP refusal.
func Translate(err error) *AuthzError {
	verr, _ := auth.AsVerificationError(err)

	switch {
	case verr == nil:
		return &AuthzError{Status: http.StatusUnauthorized, Body: messageBody("Unauthorized"), Cause: err}

	case verr.Kind == auth.ErrMissingCredential:
		return &AuthzError{Status: http.StatusUnauthorized, Body: messageBody("No token provided"), Cause: err}

	case verr.Kind == auth.ErrAuthorityUnavailable:
		return &AuthzError{Status: http.StatusServiceUnavailable, Body: messageBody("Auth service unavailable"), Cause: err}

	case verr.Kind == auth.ErrInvalidCredential:
		status := verr.Status
		if status < http.StatusBadRequest {
			status = http.StatusUnauthorized
		}
		body := verr.Payload
		if !json.Valid(body) {
			msg := verr.Message
			if msg == "" {
				msg = "Unauthorized"
			}
			body = messageBody(msg)
		}
		return &AuthzError{Status: status, Body: body, Cause: err}

	default:
		return &AuthzError{Status: http.StatusUnauthorized, Body: messageBody("Unauthorized"), Cause: err}
	}
}

// Middleware rejects requests that fail Authorize and stores the resolved
// identity in the request context otherwise.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, authzErr := g.Authorize(r.Context(), r.Header)
		if authzErr != nil {
			if authzErr.Status == http.StatusServiceUnavailable {
				logger.Warn("Rejecting %s %s: %v", r.Method, r.URL.Path, authzErr)
			} else {
				logger.Debug("Rejecting %s %s: %v", r.Method, r.URL.Path, authzErr)
			}
			authzErr.Write(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by the middleware.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(auth.Identity)
	return identity, ok
}

func messageBody(message string) []byte {
	body, _ := json.Marshal(map[string]string{"message": message})
	return body
}
