package notify

import (
	"time"

	"github.com/marmos91/dittoshare/pkg/store/record"
)

// Message is the envelope written to live connections:
//
//	{"event":"fileShared","data":{...}}
//	{"event":"fileRevoked","fileId":"..."}
type Message struct {
	Event  Kind        `json:"event"`
	Data   *SharedFile `json:"data,omitempty"`
	FileID string      `json:"fileId,omitempty"`
}

// SharedFile is the summary sent with fileShared. The "_id" key is what
// existing web clients read.
type SharedFile struct {
	ID         string              `json:"_id"`
	FileName   string              `json:"fileName"`
	Permission record.Permission   `json:"permission,omitempty"`
	URL        string              `json:"url,omitempty"`
	Size       int64               `json:"size,omitempty"`
	SharedWith []record.ShareGrant `json:"sharedWith,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// Message converts the event to its wire form.
func (e Event) Message() Message {
	if e.Kind == KindRevoked {
		return Message{Event: KindRevoked, FileID: e.FileID}
	}

	return Message{
		Event: KindShared,
		Data: &SharedFile{
			ID:         e.FileID,
			FileName:   e.FileName,
			Permission: e.Permission,
			URL:        e.URL,
			Size:       e.Size,
			SharedWith: e.SharedWith,
			CreatedAt:  e.Timestamp,
		},
	}
}

// ClientEvent is a frame sent by a client over its live connection.
type ClientEvent struct {
	Event   string         `json:"event"`
	Payload ShareFileFrame `json:"payload"`
}

// ClientEventShareFile is the only client event the notifier acts on.
const ClientEventShareFile = "shareFile"

// ShareFileFrame is the payload of a client "shareFile" event, relayed to
// the named user as fileShared. SharedWith is forwarded as sent.
type ShareFileFrame struct {
	FileID           string              `json:"fileId"`
	SharedWithUserID string              `json:"sharedWithUserId"`
	FileName         string              `json:"fileName"`
	Permission       record.Permission   `json:"permission"`
	SharedWith       []record.ShareGrant `json:"sharedWith,omitempty"`
	URL              string              `json:"url,omitempty"`
}

// Event converts the frame into a share event stamped with now.
func (f ShareFileFrame) Event(now time.Time) Event {
	return Event{
		Kind:           KindShared,
		FileID:         f.FileID,
		TargetIdentity: f.SharedWithUserID,
		FileName:       f.FileName,
		Permission:     f.Permission,
		URL:            f.URL,
		SharedWith:     f.SharedWith,
		Timestamp:      now,
	}
}

// SharedRequest is the body of POST /api/ws/notify-file-shared.
type SharedRequest struct {
	TargetUserID string        `json:"targetUserId" validate:"required"`
	File         SharedFileRef `json:"file" validate:"required"`
}

// SharedFileRef identifies the shared file in a SharedRequest.
type SharedFileRef struct {
	ID         string            `json:"id" validate:"required"`
	Name       string            `json:"name"`
	Permission record.Permission `json:"permission" validate:"omitempty,oneof=read edit"`
	URL        string            `json:"url,omitempty"`
	Size       int64             `json:"size,omitempty"`
}

// RevokedRequest is the body of POST /api/ws/notify-file-revoked.
type RevokedRequest struct {
	TargetUserID string `json:"targetUserId" validate:"required"`
	FileID       string `json:"fileId" validate:"required"`
}

// Event converts the request into a share event stamped with now.
func (r SharedRequest) Event(now time.Time) Event {
	return Event{
		Kind:           KindShared,
		FileID:         r.File.ID,
		TargetIdentity: r.TargetUserID,
		FileName:       r.File.Name,
		Permission:     r.File.Permission,
		URL:            r.File.URL,
		Size:           r.File.Size,
		Timestamp:      now,
	}
}

// Event converts the request into a revoke event stamped with now.
func (r RevokedRequest) Event(now time.Time) Event {
	return Event{
		Kind:           KindRevoked,
		FileID:         r.FileID,
		TargetIdentity: r.TargetUserID,
		Timestamp:      now,
	}
}

func sharedRequestFrom(e Event) SharedRequest {
	return SharedRequest{
		TargetUserID: e.TargetIdentity,
		File: SharedFileRef{
			ID:         e.FileID,
			Name:       e.FileName,
			Permission: e.Permission,
			URL:        e.URL,
			Size:       e.Size,
		},
	}
}

func revokedRequestFrom(e Event) RevokedRequest {
	return RevokedRequest{TargetUserID: e.TargetIdentity, FileID: e.FileID}
}
