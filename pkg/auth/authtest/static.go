// Package authtest provides verifiers for tests of code behind the gateway.
package authtest

import (
	"context"
	"net/http"

	"github.com/marmos91/dittoshare/pkg/auth"
)

// StaticVerifier resolves credentials from a fixed map. Unknown credentials
// are rejected the way the identity authority rejects them.
type StaticVerifier map[string]auth.Identity

func (v StaticVerifier) Verify(_ context.Context, credential string) (auth.Identity, error) {
	if credential == "" {
		return auth.Identity{}, &auth.VerificationError{Kind: auth.ErrMissingCredential}
	}
	identity, ok := v[credential]
	if !ok {
		return auth.Identity{}, &auth.VerificationError{
			Kind:    auth.ErrInvalidCredential,
			Status:  http.StatusUnauthorized,
			Message: "Invalid token",
			Payload: []byte(`{"valid":false,"message":"Invalid token"}`),
		}
	}
	return identity, nil
}

// Unavailable fails every verification as if the authority were down.
type Unavailable struct{}

func (Unavailable) Verify(context.Context, string) (auth.Identity, error) {
	return auth.Identity{}, &auth.VerificationError{Kind: auth.ErrAuthorityUnavailable}
}
