// Package s3 implements a content store on Amazon S3 or an S3-compatible
// service.
//
// Keys map to object keys below an optional prefix, so the bucket mirrors
// the served tree and can be inspected or synced with standard tooling.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittocgi/pkg/content"
)

// Client is the subset of *s3.Client the store uses.
type Client interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3ContentStore implements content.Store on a bucket.
//
// Thread Safety:
// Safe for concurrent use; concurrent Puts to one key are last-write-wins.
type S3ContentStore struct {
	client    Client
	bucket    string
	keyPrefix string
}

// S3ContentStoreConfig configures New.
type S3ContentStoreConfig struct {
	// Client is the configured S3 client.
	Client Client

	// Bucket is the bucket name. The bucket must already exist.
	Bucket string

	// KeyPrefix is prepended to every object key, e.g. "site/".
	KeyPrefix string
}

// New creates a store and verifies bucket access.
func New(ctx context.Context, cfg S3ContentStoreConfig) (*S3ContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3ContentStore{client: cfg.Client, bucket: cfg.Bucket, keyPrefix: prefix}, nil
}

func (s *S3ContentStore) objectKey(key string) (string, string, error) {
	k, err := content.NormalizeKey(key)
	if err != nil {
		return "", "", fmt.Errorf("key %q: %w", key, err)
	}
	return k, s.keyPrefix + k, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// Get implements content.Store.
func (s *S3ContentStore) Get(ctx context.Context, key string) ([]byte, content.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, content.Object{}, err
	}
	k, objKey, err := s.objectKey(key)
	if err != nil {
		return nil, content.Object{}, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, content.Object{}, fmt.Errorf("content %s: %w", k, content.ErrContentNotFound)
		}
		return nil, content.Object{}, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, content.Object{}, fmt.Errorf("failed to read object body: %w", err)
	}

	return data, content.Object{
		Key:         k,
		Size:        int64(len(data)),
		ContentType: aws.ToString(result.ContentType),
		ModTime:     aws.ToTime(result.LastModified),
	}, nil
}

// Stat implements content.Store.
func (s *S3ContentStore) Stat(ctx context.Context, key string) (content.Object, error) {
	if err := ctx.Err(); err != nil {
		return content.Object{}, err
	}
	k, objKey, err := s.objectKey(key)
	if err != nil {
		return content.Object{}, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		if isNotFound(err) {
			return content.Object{}, fmt.Errorf("content %s: %w", k, content.ErrContentNotFound)
		}
		return content.Object{}, fmt.Errorf("failed to head object: %w", err)
	}

	return content.Object{
		Key:         k,
		Size:        aws.ToInt64(result.ContentLength),
		ContentType: aws.ToString(result.ContentType),
		ModTime:     aws.ToTime(result.LastModified),
	}, nil
}

// Put implements content.Store.
func (s *S3ContentStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, objKey, err := s.objectKey(key)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put object %s: %w", k, err)
	}
	return nil
}

// Delete implements content.Store.
func (s *S3ContentStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, objKey, err := s.objectKey(key)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object %s: %w", k, err)
	}
	return nil
}

// List implements content.Store.
func (s *S3ContentStore) List(ctx context.Context, prefix string) ([]content.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix = content.NormalizePrefix(prefix)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix + prefix),
	})

	var out []content.Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			out = append(out, content.Object{
				Key:     key,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close implements content.Store.
func (s *S3ContentStore) Close() error {
	return nil
}
