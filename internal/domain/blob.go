package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is one archived object as List reports it. Path is relative to
// the archive root.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter is the upload half of the archive store.
type BlobWriter interface {
	// Put uploads in a single request; contentType may be empty.
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader is the read half of the archive store. Get returns ErrNotFound
// for a missing path.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves ledger history to cold storage. Each method returns how
// many records it wrote; zero means there was nothing new.
type Archiver interface {
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
	SnapshotSovereigns(ctx context.Context, at time.Time) (int64, error)
}
