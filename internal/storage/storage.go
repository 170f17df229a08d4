package storage

import (
	"context"
	"io"
)

// ObjectInfo carries the metadata a download response needs.
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// BlobStore is the boundary to the ciphertext store. Uploaded bytes are
// already encrypted client-side; this layer only moves opaque blobs.
type BlobStore interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, objectName string) (io.ReadCloser, ObjectInfo, error)
	Delete(ctx context.Context, objectName string) error
}
