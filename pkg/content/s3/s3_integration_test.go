//go:build integration

package s3

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/marmos91/dittocgi/pkg/content"
	"github.com/marmos91/dittocgi/pkg/content/contenttest"
	"github.com/stretchr/testify/require"
)

// setupLocalstack returns a client for Localstack and creates bucket,
// removing it and its objects when the test ends.
//
// Run with:
//
//	docker run --rm -p 4566:4566 localstack/localstack
//	go test -tags=integration ./pkg/content/s3/...
func setupLocalstack(t *testing.T, bucket string) *s3.Client {
	t.Helper()
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	client, err := NewClient(ctx, ClientConfig{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		MaxRetries:      2,
	})
	require.NoError(t, err)

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(t, err, "create bucket (is Localstack running at %s?)", endpoint)

	t.Cleanup(func() {
		list, _ := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
		if list != nil {
			for _, obj := range list.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	})

	return client
}

func TestS3ContentStore_Integration(t *testing.T) {
	bucket := "dittocgi-test-" + uuid.NewString()[:8]
	client := setupLocalstack(t, bucket)

	suite := &contenttest.StoreTestSuite{
		// Each subtest gets its own prefix, so the shared bucket looks empty.
		NewStore: func(t *testing.T) content.Store {
			s, err := New(context.Background(), S3ContentStoreConfig{
				Client:    client,
				Bucket:    bucket,
				KeyPrefix: uuid.NewString(),
			})
			require.NoError(t, err)
			return s
		},
		PersistsContentType: true,
	}
	suite.Run(t)
}

func TestS3ContentStore_Integration_MissingBucket(t *testing.T) {
	client := setupLocalstack(t, "dittocgi-test-"+uuid.NewString()[:8])

	_, err := New(context.Background(), S3ContentStoreConfig{
		Client: client,
		Bucket: "dittocgi-missing-" + uuid.NewString()[:8],
	})
	require.Error(t, err)
}
