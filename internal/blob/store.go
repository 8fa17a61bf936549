// Package blob stores uploaded project files behind a small S3-like interface.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

type Driver string

const (
	DriverMinIO  Driver = "minio"
	DriverMemory Driver = "memory"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrExists      = errors.New("blob already exists")
	ErrUnsupported = errors.New("blob: unsupported operation")
)

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Driver() Driver
}

// Config selects and configures a Store. An empty Endpoint selects the memory driver.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Endpoint == "" {
		return NewMemory(), nil
	}
	return NewMinIO(ctx, cfg)
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
