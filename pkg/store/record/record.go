package record

import (
	"slices"
	"sort"
	"time"
)

// Permission is the access level a share grant confers.
type Permission string

const (
	// PermissionRead lets the grantee fetch the record and its payload.
	PermissionRead Permission = "read"

	// PermissionEdit additionally lets the grantee rename the file and
	// replace its payload. It never allows changing share grants.
	PermissionEdit Permission = "edit"
)

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	return p == PermissionRead || p == PermissionEdit
}

// ShareGrant records that a non-owner may access a file.
type ShareGrant struct {
	UserID     string     `json:"userId"`
	Permission Permission `json:"permission"`
	SharedAt   time.Time  `json:"sharedAt"`
}

// FileRecord is the durable metadata of one uploaded file.
//
// The payload itself lives in the object-storage provider; URL/ViewURL and
// ObjectID locate it there.
type FileRecord struct {
	ID       string `json:"id"`
	OwnerID  string `json:"ownerId"`
	Name     string `json:"fileName"`
	URL      string `json:"url"`
	ViewURL  string `json:"viewUrl,omitempty"`
	ObjectID string `json:"objectId"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`

	// SharedWith holds at most one grant per user, in the order they were
	// first granted.
	SharedWith []ShareGrant `json:"sharedWith"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsOwner reports whether userID owns the record.
func (f *FileRecord) IsOwner(userID string) bool {
	return userID != "" && f.OwnerID == userID
}

// GrantFor returns the grant of userID, if any.
func (f *FileRecord) GrantFor(userID string) (ShareGrant, bool) {
	for _, g := range f.SharedWith {
		if g.UserID == userID {
			return g, true
		}
	}
	return ShareGrant{}, false
}

// CanRead reports whether userID may see the record.
func (f *FileRecord) CanRead(userID string) bool {
	if f.IsOwner(userID) {
		return true
	}
	_, ok := f.GrantFor(userID)
	return ok
}

// CanEdit reports whether userID may rename the file or replace its payload.
func (f *FileRecord) CanEdit(userID string) bool {
	if f.IsOwner(userID) {
		return true
	}
	g, ok := f.GrantFor(userID)
	return ok && g.Permission == PermissionEdit
}

// Grant adds or updates the grant of userID. An existing grant is updated in
// place, keeping its position. Returns true when a new grant was appended.
func (f *FileRecord) Grant(userID string, permission Permission, now time.Time) bool {
	for i := range f.SharedWith {
		if f.SharedWith[i].UserID == userID {
			f.SharedWith[i].Permission = permission
			f.SharedWith[i].SharedAt = now
			return false
		}
	}

	f.SharedWith = append(f.SharedWith, ShareGrant{
		UserID:     userID,
		Permission: permission,
		SharedAt:   now,
	})
	return true
}

// Revoke removes the grant of userID. Returns false if there was none.
func (f *FileRecord) Revoke(userID string) bool {
	before := len(f.SharedWith)
	f.SharedWith = slices.DeleteFunc(f.SharedWith, func(g ShareGrant) bool {
		return g.UserID == userID
	})
	return len(f.SharedWith) != before
}

// Clone returns a deep copy of f.
func (f *FileRecord) Clone() *FileRecord {
	if f == nil {
		return nil
	}
	c := *f
	c.SharedWith = slices.Clone(f.SharedWith)
	return &c
}

// SortNewestFirst orders records by creation time, newest first, breaking
// ties by ID so the order is stable across stores.
func SortNewestFirst(records []*FileRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
}
