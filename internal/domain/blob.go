package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one stored object, e.g. a daily ledger copy.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads objects. Put replaces any existing object at path.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader downloads and enumerates objects. Get returns ErrNotFound for
// a missing path.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}
