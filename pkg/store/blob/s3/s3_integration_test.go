//go:build integration

package s3

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittoshare/pkg/store/blob"
	blobtesting "github.com/marmos91/dittoshare/pkg/store/blob/testing"
	"github.com/stretchr/testify/require"
)

// TestS3BlobStore_Integration runs the blob store suite against Localstack.
//
//	docker run --rm -p 4566:4566 localstack/localstack
//	go test -tags=integration ./pkg/store/blob/s3/...
func TestS3BlobStore_Integration(t *testing.T) {
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	cfg := S3BlobStoreConfig{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	}

	client, err := NewS3ClientFromConfig(ctx, cfg)
	require.NoError(t, err)

	suite := &blobtesting.StoreTestSuite{
		NewStore: func() blob.Store {
			bucket := fmt.Sprintf("dittoshare-test-%d", time.Now().UnixNano())
			_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
			require.NoError(t, err)

			c := cfg
			c.Bucket = bucket
			c.Client = client
			store, err := NewS3BlobStore(ctx, c)
			require.NoError(t, err)
			return store
		},
	}
	suite.Run(t)
}
