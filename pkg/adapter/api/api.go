// Package api serves the file service over HTTP.
//
// Routes (all under the auth gateway except /health and /blobs):
//
//	POST   /api/files/upload           multipart field "file"
//	GET    /api/files                  files owned by the caller
//	GET    /api/files/shared-with-me   files shared with the caller
//	GET    /api/files/{id}             one file
//	GET    /api/files/{id}/content     the payload
//	PUT    /api/files/{id}             rename (JSON) or replace (multipart)
//	DELETE /api/files/{id}
//	POST   /api/files/{id}/share       {"userId", "permission"}
//	POST   /api/files/{id}/revoke      {"userId"}
//	GET    /blobs/{objectId}           public payload URLs of local blob stores
//	GET    /health
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/marmos91/dittoshare/pkg/adapter"
	"github.com/marmos91/dittoshare/pkg/files"
	"github.com/marmos91/dittoshare/pkg/gateway"
	"github.com/marmos91/dittoshare/pkg/metrics"
	"github.com/marmos91/dittoshare/pkg/store/blob"
)

// BlobsPath is the route prefix of public payload URLs.
const BlobsPath = "/blobs"

// Config configures the file API adapter.
type Config struct {
	adapter.HTTPConfig `mapstructure:",squash"`
}

// Adapter is the file API. It implements adapter.Adapter.
type Adapter struct {
	*adapter.HTTPServer

	files   *files.Service
	blobs   blob.Store
	handler http.Handler
}

// New builds the file API. blobs may be nil when payload URLs are served by
// the storage provider itself (S3); /blobs is then not routed.
func New(cfg Config, svc *files.Service, gw *gateway.Gateway, blobs blob.Store, m metrics.HTTPMetrics) *Adapter {
	a := &Adapter{files: svc, blobs: blobs}

	router := mux.NewRouter()
	router.Use(adapter.Recover, adapter.Instrument(m))
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adapter.WriteMessage(w, http.StatusNotFound, "Route not found")
	})

	router.HandleFunc("/health", adapter.HealthHandler("files")).Methods(http.MethodGet)
	if blobs != nil {
		router.HandleFunc(BlobsPath+"/{objectID:.+}", a.serveBlob).Methods(http.MethodGet, http.MethodHead)
	}

	fileRoutes := router.PathPrefix("/api/files").Subrouter()
	fileRoutes.Use(gw.Middleware)
	fileRoutes.HandleFunc("/upload", a.upload).Methods(http.MethodPost)
	fileRoutes.HandleFunc("", a.listOwned).Methods(http.MethodGet)
	fileRoutes.HandleFunc("/", a.listOwned).Methods(http.MethodGet)
	fileRoutes.HandleFunc("/shared-with-me", a.listShared).Methods(http.MethodGet)
	fileRoutes.HandleFunc("/{id}", a.get).Methods(http.MethodGet)
	fileRoutes.HandleFunc("/{id}/content", a.content).Methods(http.MethodGet)
	fileRoutes.HandleFunc("/{id}", a.update).Methods(http.MethodPut)
	fileRoutes.HandleFunc("/{id}", a.delete).Methods(http.MethodDelete)
	fileRoutes.HandleFunc("/{id}/share", a.share).Methods(http.MethodPost)
	fileRoutes.HandleFunc("/{id}/revoke", a.revoke).Methods(http.MethodPost)

	a.handler = router
	a.HTTPServer = adapter.NewHTTPServer("files-api", cfg.HTTPConfig, router)
	return a
}

// Handler returns the routed handler, for embedding and tests.
func (a *Adapter) Handler() http.Handler {
	return a.handler
}
