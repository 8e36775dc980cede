// Package auth resolves bearer credentials to identities by asking a remote
// identity authority.
//
// Every call goes over the network: results are never cached, so a revoked
// or expired credential stops working on the very next request.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/metrics"
	"golang.org/x/net/http/httpguts"
)

// maxResponseBytes bounds how much of the authority's reply is read.
const maxResponseBytes = 64 << 10

// Identity is a verified user as described by the identity authority.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Verifier resolves a bearer credential to an Identity.
type Verifier interface {
	// Verify returns the Identity owning credential, or a *VerificationError
	// whose Kind is one of ErrMissingCredential, ErrInvalidCredential,
	// ErrAuthorityUnavailable or ErrProtocolError.
	Verify(ctx context.Context, credential string) (Identity, error)
}

// Config configures an HTTPVerifier.
type Config struct {
	// VerifyURL is the authority's verification endpoint
	// (e.g. http://authority:5000/api/users/verify)
	VerifyURL string `mapstructure:"verify_url" validate:"required,url"`

	// Timeout bounds the whole round-trip, including reading the body.
	// Default: 3s
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
}

// verifyResponse is the authority's response body.
//
// Success: {"valid": true, "user": {"id": ..., "name": ..., "email": ...}}
// Rejection: {"valid": false, "message": ...}
type verifyResponse struct {
	Valid   *bool     `json:"valid"`
	User    *Identity `json:"user"`
	Message string    `json:"message"`
}

// HTTPVerifier implements Verifier against an HTTP identity authority.
type HTTPVerifier struct {
	url     string
	timeout time.Duration
	client  *http.Client
	metrics metrics.AuthMetrics
}

// NewHTTPVerifier creates a verifier calling cfg.VerifyURL.
//
// Parameters:
//   - cfg: endpoint and timeout
//   - client: HTTP client to use (nil uses a dedicated client with cfg.Timeout)
//   - m: metrics sink (nil disables metrics)
func NewHTTPVerifier(cfg Config, client *http.Client, m metrics.AuthMetrics) *HTTPVerifier {
	cfg.applyDefaults()

	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if m == nil {
		m = metrics.NewNoopAuthMetrics()
	}

	return &HTTPVerifier{
		url:     cfg.VerifyURL,
		timeout: cfg.Timeout,
		client:  client,
		metrics: m,
	}
}

// Verify implements Verifier.
func (v *HTTPVerifier) Verify(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		v.metrics.RecordVerification(metrics.OutcomeMissing, 0)
		return Identity{}, &VerificationError{Kind: ErrMissingCredential}
	}
	if !httpguts.ValidHeaderFieldValue(credential) {
		v.metrics.RecordVerification(metrics.OutcomeInvalid, 0)
		return Identity{}, &VerificationError{
			Kind:    ErrInvalidCredential,
			Status:  http.StatusUnauthorized,
			Message: "Invalid token",
		}
	}

	start := time.Now()
	identity, err := v.verify(ctx, credential)
	elapsed := time.Since(start)

	v.metrics.RecordVerification(outcomeOf(err), elapsed)
	if err != nil {
		logger.Debug("Credential verification failed after %v: %v", elapsed, err)
	}

	return identity, err
}

func (v *HTTPVerifier) verify(ctx context.Context, credential string) (Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return Identity{}, &VerificationError{Kind: ErrAuthorityUnavailable, Err: fmt.Errorf("invalid verify url: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Identity{}, &VerificationError{Kind: ErrAuthorityUnavailable, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Identity{}, &VerificationError{Kind: ErrAuthorityUnavailable, Status: resp.StatusCode, Err: err}
	}

	var parsed verifyResponse
	decodeErr := json.Unmarshal(body, &parsed)

	switch {
	case unavailableStatus(resp.StatusCode):
		return Identity{}, &VerificationError{
			Kind:    ErrAuthorityUnavailable,
			Status:  resp.StatusCode,
			Message: parsed.Message,
		}

	case resp.StatusCode >= http.StatusBadRequest:
		return Identity{}, &VerificationError{
			Kind:    ErrInvalidCredential,
			Status:  resp.StatusCode,
			Message: parsed.Message,
			Payload: body,
		}

	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return Identity{}, &VerificationError{Kind: ErrProtocolError, Status: resp.StatusCode}
	}

	if decodeErr != nil {
		return Identity{}, &VerificationError{Kind: ErrProtocolError, Status: resp.StatusCode, Err: decodeErr}
	}
	if parsed.Valid == nil {
		return Identity{}, &VerificationError{
			Kind:   ErrProtocolError,
			Status: resp.StatusCode,
			Err:    errors.New(`response has no "valid" field`),
		}
	}
	if !*parsed.Valid {
		return Identity{}, &VerificationError{
			Kind:    ErrInvalidCredential,
			Status:  http.StatusUnauthorized,
			Message: parsed.Message,
			Payload: body,
		}
	}
	if parsed.User == nil || parsed.User.ID == "" {
		return Identity{}, &VerificationError{
			Kind:   ErrProtocolError,
			Status: resp.StatusCode,
			Err:    errors.New("valid response without a user id"),
		}
	}

	return *parsed.User, nil
}

// unavailableStatus reports the statuses a gateway or proxy in front of the
// authority uses when it cannot reach it. Any other error status is the
// authority's own answer and is passed through to the caller.
func unavailableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeValid
	case errors.Is(err, ErrMissingCredential):
		return metrics.OutcomeMissing
	case errors.Is(err, ErrInvalidCredential):
		return metrics.OutcomeInvalid
	case errors.Is(err, ErrAuthorityUnavailable):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeProtocol
	}
}

// BearerToken extracts the credential from an Authorization header value.
// Returns "" when the header is absent or does not use the Bearer scheme.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
