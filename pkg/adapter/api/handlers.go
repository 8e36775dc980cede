package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/adapter"
	"github.com/marmos91/dittoshare/pkg/auth"
	"github.com/marmos91/dittoshare/pkg/files"
	"github.com/marmos91/dittoshare/pkg/gateway"
	"github.com/marmos91/dittoshare/pkg/store/blob"
	"github.com/marmos91/dittoshare/pkg/store/record"
)

// multipartMemory is how much of a multipart form is kept in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

type renameRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

type shareRequest struct {
	UserID     string            `json:"userId" validate:"required"`
	Permission record.Permission `json:"permission" validate:"required,oneof=read edit"`
}

type revokeRequest struct {
	UserID string `json:"userId" validate:"required"`
}

func (a *Adapter) upload(w http.ResponseWriter, r *http.Request) {
	identity := mustIdentity(r)

	p, cleanup, ok := a.readPayload(w, r, true)
	if !ok {
		return
	}
	defer cleanup()

	rec, err := a.files.Upload(r.Context(), identity.ID, *p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	adapter.WriteJSON(w, http.StatusCreated, rec)
}

func (a *Adapter) listOwned(w http.ResponseWriter, r *http.Request) {
	list, err := a.files.ListOwned(r.Context(), mustIdentity(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	adapter.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (a *Adapter) listShared(w http.ResponseWriter, r *http.Request) {
	list, err := a.files.ListSharedWith(r.Context(), mustIdentity(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	adapter.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (a *Adapter) get(w http.ResponseWriter, r *http.Request) {
	rec, err := a.files.Get(r.Context(), mustIdentity(r).ID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	adapter.WriteJSON(w, http.StatusOK, rec)
}

func (a *Adapter) content(w http.ResponseWriter, r *http.Request) {
	rc, rec, err := a.files.Open(r.Context(), mustIdentity(r).ID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() { _ = rc.Close() }()

	writeContentHeaders(w, rec.MimeType, rec.Size, disposition(r), rec.Name)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Debug("Download of %s interrupted: %v", rec.ID, err)
	}
}

func (a *Adapter) update(w http.ResponseWriter, r *http.Request) {
	identity := mustIdentity(r)
	id := mux.Vars(r)["id"]

	var req files.UpdateRequest
	if isMultipart(r) {
		p, cleanup, ok := a.readPayload(w, r, false)
		if !ok {
			return
		}
		defer cleanup()

		req.Payload = p
		if name := strings.TrimSpace(r.FormValue("name")); name != "" {
			req.Name = &name
		}
	} else {
		var body renameRequest
		if err := adapter.DecodeJSON(w, r, &body); err != nil {
			adapter.WriteMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Name = &body.Name
	}

	rec, err := a.files.Update(r.Context(), identity.ID, id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	adapter.WriteJSON(w, http.StatusOK, rec)
}

func (a *Adapter) delete(w http.ResponseWriter, r *http.Request) {
	if err := a.files.Delete(r.Context(), mustIdentity(r).ID, mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	adapter.WriteMessage(w, http.StatusOK, "File deleted")
}

func (a *Adapter) share(w http.ResponseWriter, r *http.Request) {
	var body shareRequest
	if err := adapter.DecodeJSON(w, r, &body); err != nil {
		adapter.WriteMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := a.files.Share(r.Context(), mustIdentity(r).ID, mux.Vars(r)["id"], body.UserID, body.Permission)
	if err != nil {
		writeError(w, r, err)
		return
	}
	adapter.WriteJSON(w, http.StatusOK, rec)
}

func (a *Adapter) revoke(w http.ResponseWriter, r *http.Request) {
	var body revokeRequest
	if err := adapter.DecodeJSON(w, r, &body); err != nil {
		adapter.WriteMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := a.files.Revoke(r.Context(), mustIdentity(r).ID, mux.Vars(r)["id"], body.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	adapter.WriteJSON(w, http.StatusOK, rec)
}

// serveBlob answers the public URLs handed out by local blob stores.
func (a *Adapter) serveBlob(w http.ResponseWriter, r *http.Request) {
	objectID := mux.Vars(r)["objectID"]

	rc, info, err := a.blobs.Open(r.Context(), objectID)
	switch {
	case errors.Is(err, blob.ErrNotFound), errors.Is(err, blob.ErrInvalidObjectID):
		adapter.WriteMessage(w, http.StatusNotFound, "Object not found")
		return
	case err != nil:
		logger.Error("Failed to open object %s: %v", objectID, err)
		adapter.WriteMessage(w, http.StatusBadGateway, "Storage unavailable")
		return
	}
	defer func() { _ = rc.Close() }()

	writeContentHeaders(w, info.ContentType, info.Size, disposition(r), path.Base(objectID))
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		logger.Debug("Download of %s interrupted: %v", objectID, err)
	}
}

// readPayload parses a multipart request and returns its "file" part. When
// the part is optional and absent, the payload is nil and ok is true.
func (a *Adapter) readPayload(w http.ResponseWriter, r *http.Request, required bool) (*files.Payload, func(), bool) {
	noop := func() {}

	// Room for the form envelope around the payload.
	r.Body = http.MaxBytesReader(w, r.Body, a.files.MaxUploadBytes()+multipartMemory)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			adapter.WriteMessage(w, http.StatusRequestEntityTooLarge, "File too large")
		} else {
			adapter.WriteMessage(w, http.StatusBadRequest, "Malformed multipart body")
		}
		return nil, noop, false
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		if required {
			cleanup()
			adapter.WriteMessage(w, http.StatusBadRequest, "No file uploaded")
			return nil, noop, false
		}
		return nil, cleanup, true
	}
	if err != nil {
		cleanup()
		adapter.WriteMessage(w, http.StatusBadRequest, "Malformed file part")
		return nil, noop, false
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	payload := &files.Payload{
		Name:     header.Filename,
		MimeType: mimeType,
		Size:     header.Size,
		Body:     file,
	}
	release := func() {
		_ = file.Close()
		cleanup()
	}
	return payload, release, true
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var storeErr *record.StoreError
	if errors.As(err, &storeErr) {
		switch storeErr.Code {
		case record.ErrNotFound:
			adapter.WriteMessage(w, http.StatusNotFound, "File not found")
		case record.ErrAccessDenied:
			adapter.WriteMessage(w, http.StatusForbidden, capitalize(storeErr.Message))
		case record.ErrAlreadyExists:
			adapter.WriteMessage(w, http.StatusConflict, capitalize(storeErr.Message))
		case record.ErrInvalidArgument:
			adapter.WriteMessage(w, http.StatusBadRequest, capitalize(storeErr.Message))
		case record.ErrPayloadTooLarge:
			adapter.WriteMessage(w, http.StatusRequestEntityTooLarge, capitalize(storeErr.Message))
		default:
			logger.Error("%s %s: %v", r.Method, r.URL.Path, err)
			adapter.WriteMessage(w, http.StatusBadGateway, "Storage unavailable")
		}
		return
	}

	if r.Context().Err() != nil {
		logger.Debug("%s %s abandoned by client: %v", r.Method, r.URL.Path, err)
		return
	}

	logger.Error("%s %s: %v", r.Method, r.URL.Path, err)
	adapter.WriteMessage(w, http.StatusInternalServerError, "Internal server error")
}

func writeContentHeaders(w http.ResponseWriter, mimeType string, size int64, disposition, filename string) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": filename}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

// disposition honours ?disposition=inline (the view URL), defaulting to a
// download.
func disposition(r *http.Request) string {
	if r.URL.Query().Get("disposition") == "inline" {
		return "inline"
	}
	return "attachment"
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// mustIdentity returns the caller resolved by the gateway middleware.
func mustIdentity(r *http.Request) auth.Identity {
	identity, ok := gateway.IdentityFromContext(r.Context())
	if !ok {
		panic("api handler reached without an authenticated identity")
	}
	return identity
}

func nonNil(list []*record.FileRecord) []*record.FileRecord {
	if list == nil {
		return []*record.FileRecord{}
	}
	return list
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
