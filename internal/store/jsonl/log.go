// Package jsonl implements append-only logs holding one JSON document per
// line. Readers skip lines that fail to decode, so a torn final write or a
// concurrent rotation never makes the log unreadable.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// maxLine bounds a single record.
const maxLine = 1 << 20

// Log is an append-only JSONL file. It is safe for concurrent use within
// one process.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open prepares a log at path, creating its directory. The file itself is
// created on first append.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonl: create dir for %s: %w", path, err)
	}
	return &Log{path: path}, nil
}

// Path returns the file path.
func (l *Log) Path() string { return l.path }

// Name returns the file's base name.
func (l *Log) Name() string { return filepath.Base(l.path) }

// Append writes v as one line.
func (l *Log) Append(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("jsonl: encode %s: %w", l.Name(), err)
	}
	raw = append(raw, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("jsonl: open %s: %w", l.Name(), err)
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		return fmt.Errorf("jsonl: append %s: %w", l.Name(), err)
	}
	return f.Close()
}

// Each calls fn with every well-formed record in file order. Returning an
// error from fn stops the scan.
func Each[T any](l *Log, fn func(T) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.scan(func(line []byte) error {
		var v T
		if json.Unmarshal(line, &v) != nil {
			return nil
		}
		return fn(v)
	})
}

// Tail returns the last n well-formed records, oldest first. n <= 0 returns
// every record.
func Tail[T any](l *Log, n int) ([]T, error) {
	var out []T
	err := Each(l, func(v T) error {
		out = append(out, v)
		if n > 0 && len(out) > 2*n {
			out = append(out[:0], out[len(out)-n:]...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// Rotation describes one Rotate call.
type Rotation struct {
	Name     string `json:"name"`
	Before   int    `json:"before"`
	After    int    `json:"after"`
	Location string `json:"location,omitempty"`
}

// Rotated reports whether the live file was rewritten.
func (r Rotation) Rotated() bool { return r.Location != "" }

// Rotate archives the whole file to sink and replaces it with its last keep
// lines when it holds more than keep. The replacement is written to a
// temporary file and renamed over the live one.
func (l *Log) Rotate(ctx context.Context, keep int, sink domain.ArchiveSink) (Rotation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rot := Rotation{Name: l.Name()}
	var lines [][]byte
	err := l.scan(func(line []byte) error {
		lines = append(lines, bytes.Clone(line))
		return nil
	})
	if err != nil {
		return rot, err
	}
	rot.Before, rot.After = len(lines), len(lines)
	if len(lines) <= keep {
		return rot, nil
	}

	f, err := os.Open(l.path)
	if err != nil {
		return rot, fmt.Errorf("jsonl: open %s: %w", l.Name(), err)
	}
	loc, err := sink.Archive(ctx, l.Name(), f)
	_ = f.Close()
	if err != nil {
		return rot, fmt.Errorf("jsonl: archive %s: %w", l.Name(), err)
	}

	kept := lines[len(lines)-max(keep, 0):]
	tmp, err := os.CreateTemp(filepath.Dir(l.path), l.Name()+".*.tmp")
	if err != nil {
		return rot, fmt.Errorf("jsonl: temp for %s: %w", l.Name(), err)
	}
	w := bufio.NewWriter(tmp)
	for _, line := range kept {
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	if err := errors.Join(w.Flush(), tmp.Sync(), tmp.Close()); err != nil {
		_ = os.Remove(tmp.Name())
		return rot, fmt.Errorf("jsonl: write %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		_ = os.Remove(tmp.Name())
		return rot, fmt.Errorf("jsonl: replace %s: %w", l.Name(), err)
	}

	rot.After = len(kept)
	rot.Location = loc
	return rot, nil
}

// scan reads non-empty lines. A missing file reads as empty. Lines longer
// than maxLine are skipped. Callers hold l.mu.
func (l *Log) scan(fn func(line []byte) error) error {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("jsonl: open %s: %w", l.Name(), err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := readLine(r)
		if len(line) > 0 {
			if ferr := fn(line); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("jsonl: read %s: %w", l.Name(), err)
		}
	}
}

// readLine returns the next line without its terminator, or nil for an
// empty or oversized line.
func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	oversized := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !oversized {
			buf = append(buf, chunk...)
			if len(buf) > maxLine {
				oversized, buf = true, nil
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if oversized {
			return nil, err
		}
		return bytes.TrimSpace(buf), err
	}
}
