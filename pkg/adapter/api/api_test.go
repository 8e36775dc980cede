package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/marmos91/dittoshare/pkg/adapter"
	"github.com/marmos91/dittoshare/pkg/auth"
	"github.com/marmos91/dittoshare/pkg/auth/authtest"
	cachememory "github.com/marmos91/dittoshare/pkg/cache/memory"
	"github.com/marmos91/dittoshare/pkg/catalog"
	"github.com/marmos91/dittoshare/pkg/files"
	"github.com/marmos91/dittoshare/pkg/gateway"
	"github.com/marmos91/dittoshare/pkg/notify"
	blobmemory "github.com/marmos91/dittoshare/pkg/store/blob/memory"
	"github.com/marmos91/dittoshare/pkg/store/record"
	recordmemory "github.com/marmos91/dittoshare/pkg/store/record/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *httptest.Server

	mu     sync.Mutex
	events []notify.Event
}

func newTestEnv(t *testing.T, maxUpload int64) *testEnv {
	t.Helper()
	env := &testEnv{}

	verifier := authtest.StaticVerifier{
		"token-alice": auth.Identity{ID: "u1", Name: "Alice"},
		"token-bob":   auth.Identity{ID: "u2", Name: "Bob"},
		"token-carol": auth.Identity{ID: "u3", Name: "Carol"},
	}

	records := recordmemory.NewMemoryRecordStore(recordmemory.MemoryRecordStoreConfig{})
	blobs := blobmemory.NewMemoryBlobStore(blobmemory.MemoryBlobStoreConfig{BaseURL: "http://files.test" + BlobsPath})
	cat := catalog.New(records, cachememory.NewMemoryCache(cachememory.MemoryCacheConfig{}), catalog.Config{}, nil)

	publisher := notify.PublisherFunc(func(_ context.Context, e notify.Event) error {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.events = append(env.events, e)
		return nil
	})
	svc := files.New(cat, blobs, publisher, files.Config{MaxUploadBytes: maxUpload})

	a := New(Config{HTTPConfig: adapter.HTTPConfig{Port: 0}}, svc, gateway.New(verifier), blobs, nil)
	env.server = httptest.NewServer(a.Handler())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return e.do(t, method, path, token, bytes.NewReader(data), "application/json")
}

func multipartBody(t *testing.T, filename, content string, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, token, filename, content string) *record.FileRecord {
	t.Helper()
	body, ct := multipartBody(t, filename, content, nil)
	resp := e.do(t, http.MethodPost, "/api/files/upload", token, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[*record.FileRecord](t, resp)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestHealth_IsPublic(t *testing.T) {
	env := newTestEnv(t, 0)
	resp := env.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, 0)

	resp := env.do(t, http.MethodGet, "/api/files", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "No token provided")

	resp = env.do(t, http.MethodGet, "/api/files", "bogus", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"valid":false,"message":"Invalid token"}`, readBody(t, resp))
}

func TestAuthorityUnavailable(t *testing.T) {
	records := recordmemory.NewMemoryRecordStore(recordmemory.MemoryRecordStoreConfig{})
	blobs := blobmemory.NewMemoryBlobStore(blobmemory.MemoryBlobStoreConfig{})
	svc := files.New(catalog.New(records, nil, catalog.Config{}, nil), blobs, nil, files.Config{})
	a := New(Config{}, svc, gateway.New(authtest.Unavailable{}), blobs, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set("Authorization", "Bearer token-alice")
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUploadAndList(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.upload(t, "token-alice", "notes.txt", "hello world")
	assert.Equal(t, "notes.txt", rec.Name)
	assert.Equal(t, "u1", rec.OwnerID)
	assert.Equal(t, int64(11), rec.Size)
	assert.True(t, strings.HasPrefix(rec.URL, "http://files.test/blobs/drive-files/"))

	resp := env.do(t, http.MethodGet, "/api/files", "token-alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	owned := decode[[]*record.FileRecord](t, resp)
	require.Len(t, owned, 1)
	assert.Equal(t, rec.ID, owned[0].ID)

	resp = env.do(t, http.MethodGet, "/api/files", "token-bob", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]\n", readBody(t, resp))
}

func TestUpload_Rejections(t *testing.T) {
	env := newTestEnv(t, 16)

	body, ct := multipartBody(t, "", "", map[string]string{"name": "x"})
	resp := env.do(t, http.MethodPost, "/api/files/upload", "token-alice", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "No file uploaded")

	body, ct = multipartBody(t, "big.bin", strings.Repeat("x", 17), nil)
	resp = env.do(t, http.MethodPost, "/api/files/upload", "token-alice", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/files/upload", "token-alice", strings.NewReader("nope"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetAndContent(t *testing.T) {
	env := newTestEnv(t, 0)
	rec := env.upload(t, "token-alice", "notes.txt", "hello")

	resp := env.do(t, http.MethodGet, "/api/files/"+rec.ID, "token-alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, rec.ID, decode[*record.FileRecord](t, resp).ID)

	resp = env.do(t, http.MethodGet, "/api/files/"+rec.ID+"/content", "token-alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename=notes.txt`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "hello", readBody(t, resp))

	resp = env.do(t, http.MethodGet, "/api/files/"+rec.ID+"/content?disposition=inline", "token-alice", nil, "")
	assert.Equal(t, `inline; filename=notes.txt`, resp.Header.Get("Content-Disposition"))

	resp = env.do(t, http.MethodGet, "/api/files/"+rec.ID, "token-bob", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/files/missing", "token-alice", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "File not found")
}

func TestShareFlow(t *testing.T) {
	env := newTestEnv(t, 0)
	rec := env.upload(t, "token-alice", "notes.txt", "hello")

	resp := env.doJSON(t, http.MethodPost, "/api/files/"+rec.ID+"/share", "token-alice",
		map[string]string{"userId": "u2", "permission": "read"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	shared := decode[*record.FileRecord](t, resp)
	require.Len(t, shared.SharedWith, 1)
	assert.Equal(t, "u2", shared.SharedWith[0].UserID)

	resp = env.do(t, http.MethodGet, "/api/files/shared-with-me", "token-bob", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]*record.FileRecord](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)

	// Read grantees may not rename.
	resp = env.doJSON(t, http.MethodPut, "/api/files/"+rec.ID, "token-bob", map[string]string{"name": "x.txt"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Only the owner may share.
	resp = env.doJSON(t, http.MethodPost, "/api/files/"+rec.ID+"/share", "token-bob",
		map[string]string{"userId": "u3", "permission": "read"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPost, "/api/files/"+rec.ID+"/revoke", "token-alice", map[string]string{"userId": "u2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/files/"+rec.ID, "token-bob", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	env.mu.Lock()
	defer env.mu.Unlock()
	require.Len(t, env.events, 2)
	assert.Equal(t, notify.KindShared, env.events[0].Kind)
	assert.Equal(t, notify.KindRevoked, env.events[1].Kind)
}

func TestShare_Validation(t *testing.T) {
	env := newTestEnv(t, 0)
	rec := env.upload(t, "token-alice", "notes.txt", "hello")

	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing user", map[string]string{"permission": "read"}, "userId is required"},
		{"bad permission", map[string]string{"userId": "u2", "permission": "owner"}, "permission must be one of"},
		{"self share", map[string]string{"userId": "u1", "permission": "edit"}, "Cannot share a file with yourself"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.doJSON(t, http.MethodPost, "/api/files/"+rec.ID+"/share", "token-alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, readBody(t, resp), tt.want)
		})
	}
}

func TestUpdate(t *testing.T) {
	env := newTestEnv(t, 0)
	rec := env.upload(t, "token-alice", "notes.txt", "hello")

	resp := env.doJSON(t, http.MethodPost, "/api/files/"+rec.ID+"/share", "token-alice",
		map[string]string{"userId": "u2", "permission": "edit"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPut, "/api/files/"+rec.ID, "token-bob", map[string]string{"name": "renamed.txt"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "renamed.txt", decode[*record.FileRecord](t, resp).Name)

	body, ct := multipartBody(t, "v2.txt", "second version", map[string]string{"name": "final.txt"})
	resp = env.do(t, http.MethodPut, "/api/files/"+rec.ID, "token-alice", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[*record.FileRecord](t, resp)
	assert.Equal(t, "final.txt", updated.Name)
	assert.Equal(t, int64(14), updated.Size)

	resp = env.do(t, http.MethodGet, "/api/files/"+rec.ID+"/content", "token-bob", nil, "")
	assert.Equal(t, "second version", readBody(t, resp))

	resp = env.doJSON(t, http.MethodPut, "/api/files/"+rec.ID, "token-alice", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t, 0)
	rec := env.upload(t, "token-alice", "notes.txt", "hello")

	resp := env.do(t, http.MethodDelete, "/api/files/"+rec.ID, "token-bob", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/files/"+rec.ID, "token-alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "File deleted")

	resp = env.do(t, http.MethodGet, "/api/files/"+rec.ID, "token-alice", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, strings.TrimPrefix(rec.URL, "http://files.test"), "", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPublicBlobURLs(t *testing.T) {
	env := newTestEnv(t, 0)
	rec := env.upload(t, "token-alice", "notes.txt", "hello")

	path := strings.TrimPrefix(rec.URL, "http://files.test")
	resp := env.do(t, http.MethodGet, path, "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", readBody(t, resp))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Disposition"), "attachment"))

	view := strings.TrimPrefix(rec.ViewURL, "http://files.test")
	resp = env.do(t, http.MethodGet, view, "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Disposition"), "inline"))

	resp = env.do(t, http.MethodGet, BlobsPath+"/drive-files/unknown", "", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, 0)
	resp := env.do(t, http.MethodGet, "/nope", "", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
