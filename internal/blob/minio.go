package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIO stores blobs in one bucket of an S3-compatible server.
type MinIO struct {
	client *minio.Client
	bucket string
}

// NewMinIO connects to cfg.Endpoint and creates the bucket when missing.
func NewMinIO(ctx context.Context, cfg Config) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinIO{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinIO) Driver() Driver { return DriverMinIO }

func (s *MinIO) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (Info, error) {
	if _, err := s.Head(ctx, key); err == nil {
		return Info{}, fmt.Errorf("%w: %s", ErrExists, key)
	} else if !errors.Is(err, ErrNotFound) {
		return Info{}, err
	}

	if size <= 0 {
		size = -1
	}
	uploaded, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return Info{}, fmt.Errorf("put object %s: %w", key, err)
	}
	return Info{
		Key:          key,
		Size:         uploaded.Size,
		ContentType:  opts.ContentType,
		ETag:         uploaded.ETag,
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: uploaded.LastModified,
	}, nil
}

func (s *MinIO) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Info{}, nil, s.mapErr(key, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return Info{}, nil, s.mapErr(key, err)
	}
	return objectInfo(stat), obj, nil
}

func (s *MinIO) Head(ctx context.Context, key string) (Info, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return Info{}, s.mapErr(key, err)
	}
	return objectInfo(stat), nil
}

func (s *MinIO) Delete(ctx context.Context, key string) (bool, error) {
	if _, err := s.Head(ctx, key); errors.Is(err, ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("remove object %s: %w", key, err)
	}
	return true, nil
}

func (s *MinIO) List(ctx context.Context, prefix string) ([]Info, error) {
	out := make([]Info, 0)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, obj.Err)
		}
		out = append(out, objectInfo(obj))
	}
	return out, nil
}

func (s *MinIO) PresignURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *MinIO) mapErr(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("object %s: %w", key, err)
}

func objectInfo(obj minio.ObjectInfo) Info {
	return Info{
		Key:          obj.Key,
		Size:         obj.Size,
		ContentType:  obj.ContentType,
		ETag:         obj.ETag,
		Metadata:     cloneMetadata(obj.UserMetadata),
		LastModified: obj.LastModified,
	}
}
