package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"pithos/pkg/storage"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig describes an S3-compatible bucket used to hold payloads.
type MinioConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
}

// MinioStorage is a StorageEngine that keeps payloads as objects in a single
// S3 bucket, keyed the same way LocalFileStorage lays out files.
type MinioStorage struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ storage.StorageEngine = (*MinioStorage)(nil)

// NewMinioStorage connects to the endpoint and makes sure the bucket exists.
func NewMinioStorage(ctx context.Context, cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return NewMinioStorageWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewMinioStorageWithClient wraps an existing client.
func NewMinioStorageWithClient(client *minio.Client, bucket string, prefix string) *MinioStorage {
	return &MinioStorage{client: client, bucket: bucket, prefix: prefix}
}

// ObjectKey computes the object key for a payload.
func ObjectKey(prefix string, namespace string, hashHex string) (string, error) {
	if len(hashHex) < 2 {
		return "", fmt.Errorf("invalid hash length: %d", len(hashHex))
	}
	return path.Join(prefix, namespace, hashHex[:2], hashHex), nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *MinioStorage) PutObject(ctx context.Context, namespace string, hashHex string, data []byte) error {
	key, err := ObjectKey(s.prefix, namespace, hashHex)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

func (s *MinioStorage) GetObject(ctx context.Context, namespace string, hashHex string) ([]byte, error) {
	key, err := ObjectKey(s.prefix, namespace, hashHex)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (s *MinioStorage) HasObject(ctx context.Context, namespace string, hashHex string) (bool, error) {
	key, err := ObjectKey(s.prefix, namespace, hashHex)
	if err != nil {
		return false, err
	}

	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *MinioStorage) DeleteObject(ctx context.Context, namespace string, hashHex string) error {
	key, err := ObjectKey(s.prefix, namespace, hashHex)
	if err != nil {
		return err
	}
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}
