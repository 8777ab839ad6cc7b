package domain

import (
	"context"
	"io"
	"time"
)

type ListingClient interface {
	FetchAllUnits(ctx context.Context) ([]UnitRecord, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Object is one stored file.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// ObjectStore is the columnar snapshot repository (S3 or a local directory).
type ObjectStore interface {
	// List returns every object under prefix, at any depth.
	List(ctx context.Context, prefix string) ([]Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, body io.Reader, size int64) error
}
