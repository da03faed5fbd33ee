package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter writes objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports aged fills to cold storage and prunes them from the
// primary store.
type Archiver interface {
	ArchiveFills(ctx context.Context, before time.Time) (int64, error)
}
