package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore archives generated artifacts.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Link returns a URL the archived artifact can be opened from for at least ttl.
	Link(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Remove deletes an archived artifact. Missing keys are not an error.
	Remove(ctx context.Context, key string) error
}

// ArtifactKey returns the object key for an output of a conversation.
// ext is taken from the artifact's source path and defaults to ".pdf".
func ArtifactKey(conversationID, outputID, sourcePath string) string {
	ext := strings.ToLower(path.Ext(sourcePath))
	if ext == "" {
		ext = ".pdf"
	}
	return fmt.Sprintf("outputs/%s/%s%s", conversationID, outputID, ext)
}

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	return nil
}

func (m *MinioStore) Link(ctx context.Context, key string, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("inline; filename=%q", path.Base(key)))
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, ttl, params)
	if err != nil {
		return "", fmt.Errorf("link artifact %s: %w", key, err)
	}
	return u.String(), nil
}

func (m *MinioStore) Remove(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("remove artifact %s: %w", key, err)
	}
	return nil
}
