package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/marmos91/dittoshare/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVerifier answers from a fixed table and counts calls.
type fakeVerifier struct {
	calls   int
	answers map[string]error
}

func (f *fakeVerifier) Verify(ctx context.Context, credential string) (auth.Identity, error) {
	f.calls++
	if err, ok := f.answers[credential]; ok {
		return auth.Identity{}, err
	}
	return auth.Identity{ID: "u1", Name: "Ada", Email: "ada@example.com"}, nil
}

func newFake() *fakeVerifier {
	return &fakeVerifier{answers: map[string]error{
		"down": &auth.VerificationError{Kind: auth.ErrAuthorityUnavailable},
		"expired": &auth.VerificationError{
			Kind:    auth.ErrInvalidCredential,
			Status:  http.StatusUnauthorized,
			Payload: []byte(`{"valid":false,"message":"Invalid token"}`),
		},
		"ghost": &auth.VerificationError{
			Kind:    auth.ErrInvalidCredential,
			Status:  http.StatusNotFound,
			Payload: []byte(`{"valid":false,"message":"User not found"}`),
		},
		"crash": &auth.VerificationError{
			Kind:    auth.ErrInvalidCredential,
			Status:  http.StatusInternalServerError,
			Payload: []byte(`{"message":"Server error"}`),
		},
		"weird": &auth.VerificationError{Kind: auth.ErrProtocolError},
	}}
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
		wantCalls  int
	}{
		{name: "valid credential", header: "Bearer ok", wantStatus: http.StatusOK, wantBody: "u1", wantCalls: 1},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized, wantBody: `{"message":"No token provided"}`, wantCalls: 0},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantCalls: 0},
		{name: "authority down", header: "Bearer down", wantStatus: http.StatusServiceUnavailable, wantBody: `{"message":"Auth service unavailable"}`, wantCalls: 1},
		{name: "rejected forwards payload", header: "Bearer expired", wantStatus: http.StatusUnauthorized, wantBody: `{"valid":false,"message":"Invalid token"}`, wantCalls: 1},
		{name: "rejected forwards status", header: "Bearer ghost", wantStatus: http.StatusNotFound, wantBody: `{"valid":false,"message":"User not found"}`, wantCalls: 1},
		{name: "authority error forwards status", header: "Bearer crash", wantStatus: http.StatusInternalServerError, wantBody: `{"message":"Server error"}`, wantCalls: 1},
		{name: "protocol error", header: "Bearer weird", wantStatus: http.StatusUnauthorized, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := newFake()
			gw := New(verifier)

			handler := gw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				identity, ok := IdentityFromContext(r.Context())
				require.True(t, ok)
				_, _ = w.Write([]byte(identity.ID))
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			assert.Equal(t, tt.wantCalls, verifier.calls)
		})
	}
}

func TestAuthorize_ReturnsIdentity(t *testing.T) {
	gw := New(newFake())

	headers := http.Header{}
	headers.Set("Authorization", "Bearer tok-123")

	identity, authzErr := gw.Authorize(context.Background(), headers)
	require.Nil(t, authzErr)
	assert.Equal(t, "u1", identity.ID)
}

func TestTranslate_RejectionWithoutPayload(t *testing.T) {
	authzErr := Translate(&auth.VerificationError{Kind: auth.ErrInvalidCredential, Message: "revoked"})

	assert.Equal(t, http.StatusUnauthorized, authzErr.Status)
	assert.JSONEq(t, `{"message":"revoked"}`, string(authzErr.Body))
	assert.ErrorIs(t, authzErr, auth.ErrInvalidCredential)
}

func TestAuthorize_UnsendableCredentialIsUnauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"valid":true,"user":{"id":"u1"}}`))
	}))
	defer srv.Close()

	gw := New(auth.NewHTTPVerifier(auth.Config{VerifyURL: srv.URL}, nil, nil))

	_, authzErr := gw.Authorize(context.Background(), http.Header{"Authorization": {"Bearer abc\ndef"}})
	require.NotNil(t, authzErr)
	assert.Equal(t, http.StatusUnauthorized, authzErr.Status)
	assert.ErrorIs(t, authzErr, auth.ErrInvalidCredential)
	assert.Equal(t, int32(0), calls.Load())
}

func TestIdentityFromContext_Empty(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)
}
