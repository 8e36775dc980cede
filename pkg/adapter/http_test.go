package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	route  string
	method string
	status int
}

type recordingHTTPMetrics struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (m *recordingHTTPMetrics) RecordRequest(route, method string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{route, method, status})
}

func TestHTTPServer_Lifecycle(t *testing.T) {
	srv := NewHTTPServer("test", HTTPConfig{Port: 0}, HealthHandler("test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}
	assert.NotZero(t, srv.Port())
	assert.Equal(t, "test", srv.Protocol())

	resp, err := http.Get(fmt.Sprintf("http://%s/health", srv.Addr()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	// Stop after shutdown is a no-op.
	assert.NoError(t, srv.Stop(context.Background()))
}

func TestHTTPServer_PortInUse(t *testing.T) {
	first := NewHTTPServer("first", HTTPConfig{}, http.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = first.Serve(ctx) }()
	<-first.Ready()

	second := NewHTTPServer("second", HTTPConfig{Port: first.Port()}, http.NotFoundHandler())
	err := second.Serve(context.Background())
	assert.Error(t, err)
}

func TestInstrument_UsesRouteTemplate(t *testing.T) {
	m := &recordingHTTPMetrics{}

	router := mux.NewRouter()
	router.Use(Instrument(m))
	router.HandleFunc("/api/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods(http.MethodGet)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files/abc", nil))

	require.Len(t, m.requests, 1)
	assert.Equal(t, recordedRequest{"/api/files/{id}", http.MethodGet, http.StatusTeapot}, m.requests[0])
}

func TestRecover(t *testing.T) {
	handler := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		UserID     string `json:"userId" validate:"required"`
		Permission string `json:"permission" validate:"required,oneof=read edit"`
	}

	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"valid", `{"userId":"u2","permission":"read"}`, ""},
		{"empty", ``, "request body is empty"},
		{"malformed", `{"userId":`, "malformed JSON body"},
		{"missing field", `{"permission":"read"}`, "userId is required"},
		{"bad enum", `{"userId":"u2","permission":"admin"}`, "permission must be one of [read edit]"},
		{"too large", `{"userId":"` + strings.Repeat("x", maxJSONBody) + `"}`, "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))

			var dst body
			err := DecodeJSON(rec, req, &dst)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "u2", dst.UserID)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
