// Package local archives files into a directory on the local disk.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// TimestampLayout names archived copies.
const TimestampLayout = "2006-01-02T15-04-05.000Z"

// DirSink implements domain.ArchiveSink by copying into dir as
// "<name>.<timestamp>.bak".
type DirSink struct {
	dir string
	now func() time.Time
}

// NewDirSink returns a sink writing under dir.
func NewDirSink(dir string, now func() time.Time) *DirSink {
	if now == nil {
		now = time.Now
	}
	return &DirSink{dir: dir, now: now}
}

// Archive copies data and returns the written path.
func (s *DirSink) Archive(ctx context.Context, name string, data io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("local: create %s: %w", s.dir, err)
	}
	ts := s.now().UTC().Format(TimestampLayout)
	path := filepath.Join(s.dir, fmt.Sprintf("%s.%s.bak", filepath.Base(name), ts))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("local: create %s: %w", path, err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("local: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("local: close %s: %w", path, err)
	}
	return path, nil
}

