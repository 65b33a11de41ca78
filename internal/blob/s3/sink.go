package s3blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// archivePartSize is the multipart threshold for archived files.
const archivePartSize int64 = 8 * 1024 * 1024

// Sink implements domain.ArchiveSink. A file named "series.jsonl" lands at
// "<prefix>archive/series/<timestamp>.jsonl".
type Sink struct {
	w      domain.BlobWriter
	prefix string
	now    func() time.Time
}

// NewSink creates a sink writing through w under prefix.
func NewSink(w domain.BlobWriter, prefix string, now func() time.Time) *Sink {
	if now == nil {
		now = time.Now
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Sink{w: w, prefix: prefix, now: now}
}

// Key returns the object key for name archived at t.
func (s *Sink) Key(name string, t time.Time) string {
	base := path.Base(name)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".bin"
	}
	ts := t.UTC().Format("2006-01-02T15-04-05.000Z")
	return s.prefix + "archive/" + stem + "/" + ts + ext
}

// Archive uploads data and returns its key.
func (s *Sink) Archive(ctx context.Context, name string, data io.Reader) (string, error) {
	key := s.Key(name, s.now())
	if err := s.w.PutMultipart(ctx, key, data, archivePartSize); err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", name, err)
	}
	return key, nil
}

var _ domain.ArchiveSink = (*Sink)(nil)
