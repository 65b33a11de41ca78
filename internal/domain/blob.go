package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ArchiveSink receives rotated log segments and ledger exports. It is backed
// by a local directory or by object storage.
type ArchiveSink interface {
	Archive(ctx context.Context, name string, data io.Reader) (location string, err error)
}
