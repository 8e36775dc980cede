// Package files implements the file-service operations: upload, read,
// rename or replace, delete, share and revoke.
//
// Records flow through the catalog so every mutation invalidates the cache
// before returning. Payloads live in the blob store. Share and revoke emit
// notification events after the record is saved; a failed publish is logged
// and never undoes the mutation.
package files

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/catalog"
	"github.com/marmos91/dittoshare/pkg/notify"
	"github.com/marmos91/dittoshare/pkg/store/blob"
	"github.com/marmos91/dittoshare/pkg/store/record"
)

// DefaultMaxUploadBytes is the upload limit when none is configured.
const DefaultMaxUploadBytes = 50 << 20

// Config configures the file service.
type Config struct {
	// MaxUploadBytes rejects larger payloads (default: 50 MiB)
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" validate:"omitempty,gt=0"`

	// ObjectPrefix groups payloads in the blob store (default: "drive-files")
	ObjectPrefix string `mapstructure:"object_prefix"`

	// PublishTimeout bounds each notification publish (default: 3s)
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// Payload is an uploaded file body with its declared attributes.
type Payload struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

// UpdateRequest lists the changes of an Update. Nil fields are left alone.
type UpdateRequest struct {
	Name    *string
	Payload *Payload
}

// Service implements the file operations.
type Service struct {
	catalog   *catalog.Catalog
	blobs     blob.Store
	publisher notify.Publisher

	maxUpload      int64
	objectPrefix   string
	publishTimeout time.Duration

	now   func() time.Time
	newID func() string
}

// New creates a Service. A nil publisher disables notifications.
func New(cat *catalog.Catalog, blobs blob.Store, publisher notify.Publisher, cfg Config) *Service {
	if publisher == nil {
		publisher = notify.Noop{}
	}

	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	prefix := strings.Trim(cfg.ObjectPrefix, "/")
	if prefix == "" {
		prefix = "drive-files"
	}
	publishTimeout := cfg.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = 3 * time.Second
	}

	return &Service{
		catalog:        cat,
		blobs:          blobs,
		publisher:      publisher,
		maxUpload:      maxUpload,
		objectPrefix:   prefix,
		publishTimeout: publishTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
	}
}

// MaxUploadBytes returns the configured payload limit.
func (s *Service) MaxUploadBytes() int64 {
	return s.maxUpload
}

// Upload stores a new file owned by owner.
func (s *Service) Upload(ctx context.Context, owner string, p Payload) (*record.FileRecord, error) {
	if owner == "" {
		return nil, invalidArgument("owner is required")
	}
	if err := s.checkPayload(p); err != nil {
		return nil, err
	}

	id := s.newID()
	loc, err := s.putPayload(ctx, id, p)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &record.FileRecord{
		ID:        id,
		OwnerID:   owner,
		Name:      strings.TrimSpace(p.Name),
		URL:       loc.URL,
		ViewURL:   loc.ViewURL,
		ObjectID:  loc.ObjectID,
		MimeType:  p.MimeType,
		Size:      p.Size,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.catalog.Create(ctx, rec); err != nil {
		s.discardPayload(ctx, loc.ObjectID)
		return nil, err
	}

	logger.Info("Uploaded file %s (%s, %d bytes) for %s", rec.ID, rec.Name, rec.Size, owner)
	return rec, nil
}

// Get returns a file the requester owns or was granted.
func (s *Service) Get(ctx context.Context, requester, id string) (*record.FileRecord, error) {
	return s.catalog.GetFile(ctx, id, requester)
}

// ListOwned returns the requester's own files, newest first.
func (s *Service) ListOwned(ctx context.Context, requester string) ([]*record.FileRecord, error) {
	return s.catalog.ListOwned(ctx, requester)
}

// ListSharedWith returns the files shared with the requester, newest first.
func (s *Service) ListSharedWith(ctx context.Context, requester string) ([]*record.FileRecord, error) {
	return s.catalog.ListSharedWith(ctx, requester)
}

// Open returns the payload of a file the requester may read. The caller
// closes the reader.
func (s *Service) Open(ctx context.Context, requester, id string) (io.ReadCloser, *record.FileRecord, error) {
	rec, err := s.catalog.GetFile(ctx, id, requester)
	if err != nil {
		return nil, nil, err
	}

	rc, _, err := s.blobs.Open(ctx, rec.ObjectID)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil, record.NewNotFoundError(id)
	}
	if err != nil {
		return nil, nil, storageFailure("payload read", err)
	}
	return rc, rec, nil
}

// Update renames a file and/or replaces its payload. The owner and edit
// grantees may update; a replaced payload is deleted only after the new one
// is stored and the record saved.
func (s *Service) Update(ctx context.Context, requester, id string, req UpdateRequest) (*record.FileRecord, error) {
	if req.Name == nil && req.Payload == nil {
		return nil, invalidArgument("nothing to update")
	}

	var name string
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, invalidArgument("name cannot be empty")
		}
	}
	if req.Payload != nil {
		if err := s.checkPayload(*req.Payload); err != nil {
			return nil, err
		}
	}

	rec, err := s.catalog.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.CanEdit(requester) {
		return nil, accessDenied(id, "no edit permission")
	}

	var previousObject string
	if req.Payload != nil {
		loc, err := s.putPayload(ctx, id+"-"+s.newID(), *req.Payload)
		if err != nil {
			return nil, err
		}

		previousObject = rec.ObjectID
		rec.ObjectID = loc.ObjectID
		rec.URL = loc.URL
		rec.ViewURL = loc.ViewURL
		rec.MimeType = req.Payload.MimeType
		rec.Size = req.Payload.Size
		rec.Name = strings.TrimSpace(req.Payload.Name)
	}
	if req.Name != nil {
		rec.Name = name
	}
	rec.UpdatedAt = s.now()

	if err := s.catalog.Save(ctx, rec); err != nil {
		if previousObject != "" {
			s.discardPayload(ctx, rec.ObjectID)
		}
		return nil, err
	}

	if previousObject != "" {
		s.discardPayload(ctx, previousObject)
	}

	return rec, nil
}

// Delete removes a file and its payload. Only the owner may delete. A
// payload that is already gone does not block removing the record.
func (s *Service) Delete(ctx context.Context, requester, id string) error {
	rec, err := s.catalog.Load(ctx, id)
	if err != nil {
		return err
	}
	if !rec.IsOwner(requester) {
		return accessDenied(id, "only the owner can delete")
	}

	if err := s.blobs.Delete(ctx, rec.ObjectID); err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			return storageFailure("payload delete", err)
		}
		logger.Warn("Payload %s of file %s was already gone", rec.ObjectID, id)
	}

	if err := s.catalog.Remove(ctx, rec); err != nil {
		return err
	}

	logger.Info("Deleted file %s of %s", id, requester)
	return nil
}

// Share grants target a permission on the file, updating an existing grant
// in place. Only the owner may share.
func (s *Service) Share(ctx context.Context, requester, id, target string, permission record.Permission) (*record.FileRecord, error) {
	if !permission.Valid() {
		return nil, invalidArgument("unknown permission %q", permission)
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, invalidArgument("target user is required")
	}
	if target == requester {
		return nil, invalidArgument("cannot share a file with yourself")
	}

	rec, err := s.catalog.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsOwner(requester) {
		return nil, accessDenied(id, "only the owner can share")
	}

	now := s.now()
	rec.Grant(target, permission, now)
	rec.UpdatedAt = now

	if err := s.catalog.Save(ctx, rec); err != nil {
		return nil, err
	}

	s.publish(ctx, notify.NewShareEvent(rec, target, permission, now))
	return rec, nil
}

// Revoke removes the grant of target. Only the owner may revoke. Revoking a
// user without a grant changes nothing and emits no event.
func (s *Service) Revoke(ctx context.Context, requester, id, target string) (*record.FileRecord, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, invalidArgument("target user is required")
	}

	rec, err := s.catalog.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsOwner(requester) {
		return nil, accessDenied(id, "only the owner can revoke")
	}

	if !rec.Revoke(target) {
		return rec, nil
	}
	now := s.now()
	rec.UpdatedAt = now

	if err := s.catalog.Save(ctx, rec); err != nil {
		return nil, err
	}

	s.publish(ctx, notify.NewRevokeEvent(rec, target, now))
	return rec, nil
}

func (s *Service) checkPayload(p Payload) error {
	if strings.TrimSpace(p.Name) == "" {
		return invalidArgument("file name is required")
	}
	if p.Body == nil || p.Size < 0 {
		return invalidArgument("file payload is missing")
	}
	if p.Size > s.maxUpload {
		return payloadTooLarge(p.Size, s.maxUpload)
	}
	return nil
}

func (s *Service) putPayload(ctx context.Context, name string, p Payload) (blob.Location, error) {
	objectID := s.objectPrefix + "/" + name

	loc, err := s.blobs.Put(ctx, objectID, p.Body, p.Size, p.MimeType)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return blob.Location{}, ctxErr
		}
		return blob.Location{}, storageFailure("payload upload", err)
	}
	return loc, nil
}

// discardPayload removes an object that no record references any more.
func (s *Service) discardPayload(ctx context.Context, objectID string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), objectID); err != nil && !errors.Is(err, blob.ErrNotFound) {
		logger.Warn("Failed to delete orphaned payload %s: %v", objectID, err)
	}
}

// publish hands the event to the notifier. It runs after the mutation
// committed, so it is detached from the request's cancellation.
func (s *Service) publish(ctx context.Context, event notify.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Warn("Failed to notify %s of %s on file %s: %v", event.TargetIdentity, event.Kind, event.FileID, err)
	}
}
