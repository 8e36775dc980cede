// Package notify carries sharing and revocation events from the file service
// to the notification service.
//
// An Event is transient: it exists while it travels to the notifier and is
// fanned out to the target's live connections, and is never persisted.
package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittoshare/pkg/store/record"
)

// Kind names an event as it appears on the live connection.
type Kind string

const (
	KindShared  Kind = "fileShared"
	KindRevoked Kind = "fileRevoked"
)

// Event is a share or revoke addressed to one identity.
type Event struct {
	Kind           Kind   `json:"kind"`
	FileID         string `json:"fileId"`
	TargetIdentity string `json:"targetUserId"`
	FileName       string `json:"fileName,omitempty"`

	// Permission, URL, Size and SharedWith are only set on share events.
	Permission record.Permission   `json:"permission,omitempty"`
	URL        string              `json:"url,omitempty"`
	Size       int64               `json:"size,omitempty"`
	SharedWith []record.ShareGrant `json:"sharedWith,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

var errInvalidEvent = errors.New("invalid event")

// NewShareEvent describes rec being shared with target.
func NewShareEvent(rec *record.FileRecord, target string, permission record.Permission, now time.Time) Event {
	return Event{
		Kind:           KindShared,
		FileID:         rec.ID,
		TargetIdentity: target,
		FileName:       rec.Name,
		Permission:     permission,
		URL:            rec.URL,
		Size:           rec.Size,
		Timestamp:      now,
	}
}

// NewRevokeEvent describes target losing access to rec.
func NewRevokeEvent(rec *record.FileRecord, target string, now time.Time) Event {
	return Event{
		Kind:           KindRevoked,
		FileID:         rec.ID,
		TargetIdentity: target,
		FileName:       rec.Name,
		Timestamp:      now,
	}
}

// Validate checks the fields every consumer relies on.
func (e Event) Validate() error {
	switch e.Kind {
	case KindShared, KindRevoked:
	default:
		return fmt.Errorf("%w: unknown kind %q", errInvalidEvent, e.Kind)
	}
	if e.FileID == "" {
		return fmt.Errorf("%w: missing file id", errInvalidEvent)
	}
	if e.TargetIdentity == "" {
		return fmt.Errorf("%w: missing target identity", errInvalidEvent)
	}
	return nil
}
