package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateObjectID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"abc", true},
		{"drive-files/abc", true},
		{"", false},
		{"/abc", false},
		{"a/../b", false},
		{"a//b", false},
		{"a/", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateObjectID(tt.id)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidObjectID)
			}
		})
	}
}

func TestPublicLocation(t *testing.T) {
	loc := PublicLocation("https://files.example.com/blobs/", "drive-files/a b")

	assert.Equal(t, "drive-files/a b", loc.ObjectID)
	assert.Equal(t, "https://files.example.com/blobs/drive-files/a%20b", loc.URL)
	assert.Equal(t, "https://files.example.com/blobs/drive-files/a%20b?disposition=inline", loc.ViewURL)
}
