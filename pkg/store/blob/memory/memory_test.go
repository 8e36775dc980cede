package memory

import (
	"testing"

	"github.com/marmos91/dittoshare/pkg/store/blob"
	blobtesting "github.com/marmos91/dittoshare/pkg/store/blob/testing"
)

func TestMemoryBlobStore(t *testing.T) {
	suite := &blobtesting.StoreTestSuite{
		NewStore: func() blob.Store {
			return NewMemoryBlobStore(MemoryBlobStoreConfig{BaseURL: "http://localhost:8080/blobs"})
		},
		BaseURL: "http://localhost:8080/blobs",
	}
	suite.Run(t)
}
