// Package authority exposes pkg/authority over HTTP with the verification
// contract the token verifier consumes:
//
//	GET /api/users/verify   Authorization: Bearer <token>
//	  200 {"valid":true,"user":{"id","name","email"}}
//	  400 {"valid":false,"message":"Token missing"}
//	  401 {"valid":false,"message":"Invalid token"}
//	  404 {"valid":false,"message":"User not found"}
package authority

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/adapter"
	"github.com/marmos91/dittoshare/pkg/auth"
	"github.com/marmos91/dittoshare/pkg/authority"
	"github.com/marmos91/dittoshare/pkg/metrics"
)

// VerifyPath is the verification route.
const VerifyPath = "/api/users/verify"

// Config configures the authority adapter.
type Config struct {
	adapter.HTTPConfig `mapstructure:",squash"`
}

type verifyResponse struct {
	Valid   bool           `json:"valid"`
	User    *authority.User `json:"user,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Adapter serves the identity authority. It implements adapter.Adapter.
type Adapter struct {
	*adapter.HTTPServer

	authority *authority.Authority
	handler   http.Handler
}

// New builds the authority adapter.
func New(cfg Config, a *authority.Authority, m metrics.HTTPMetrics) *Adapter {
	ad := &Adapter{authority: a}

	router := mux.NewRouter()
	router.Use(adapter.Recover, adapter.Instrument(m))
	router.HandleFunc("/health", adapter.HealthHandler("authority")).Methods(http.MethodGet)
	router.HandleFunc(VerifyPath, ad.verify).Methods(http.MethodGet)

	ad.handler = router
	ad.HTTPServer = adapter.NewHTTPServer("authority", cfg.HTTPConfig, router)
	return ad
}

// Handler returns the routed handler, for embedding and tests.
func (ad *Adapter) Handler() http.Handler {
	return ad.handler
}

func (ad *Adapter) verify(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))

	user, err := ad.authority.Verify(token)
	switch {
	case err == nil:
		adapter.WriteJSON(w, http.StatusOK, verifyResponse{Valid: true, User: &user})
	case errors.Is(err, authority.ErrMissingToken):
		adapter.WriteJSON(w, http.StatusBadRequest, verifyResponse{Message: "Token missing"})
	case errors.Is(err, authority.ErrUnknownUser):
		adapter.WriteJSON(w, http.StatusNotFound, verifyResponse{Message: "User not found"})
	default:
		logger.Debug("Token verification failed: %v", err)
		adapter.WriteJSON(w, http.StatusUnauthorized, verifyResponse{Message: "Invalid token"})
	}
}
