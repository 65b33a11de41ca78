package jsonl_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polypaper/internal/store/jsonl"
)

type rec struct {
	N int `json:"n"`
}

type memSink struct {
	name string
	data string
	err  error
}

func (s *memSink) Archive(_ context.Context, name string, r io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.name, s.data = name, string(raw)
	return "mem://" + name, nil
}

func openLog(t *testing.T) *jsonl.Log {
	t.Helper()
	l, err := jsonl.Open(filepath.Join(t.TempDir(), "data", "series.jsonl"))
	require.NoError(t, err)
	return l
}

func TestTailOfMissingFileIsEmpty(t *testing.T) {
	got, err := jsonl.Tail[rec](openLog(t), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAppendAndTail(t *testing.T) {
	l := openLog(t)
	for i := range 7 {
		require.NoError(t, l.Append(rec{N: i}))
	}

	got, err := jsonl.Tail[rec](l, 3)
	require.NoError(t, err)
	assert.Equal(t, []rec{{4}, {5}, {6}}, got)

	all, err := jsonl.Tail[rec](l, 0)
	require.NoError(t, err)
	assert.Len(t, all, 7)
}

func TestTailSkipsMalformedLines(t *testing.T) {
	l := openLog(t)
	require.NoError(t, l.Append(rec{N: 1}))
	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n\n{\"n\":")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := jsonl.Tail[rec](l, 10)
	require.NoError(t, err)
	assert.Equal(t, []rec{{1}}, got, "a torn final write is skipped")

	require.NoError(t, l.Append(rec{N: 2}))
	got, err = jsonl.Tail[rec](l, 10)
	require.NoError(t, err)
	assert.Equal(t, []rec{{1}}, got, "the torn line swallows the next record but the log stays readable")
}

func TestEachStopsOnError(t *testing.T) {
	l := openLog(t)
	for i := range 3 {
		require.NoError(t, l.Append(rec{N: i}))
	}
	stop := errors.New("stop")
	seen := 0
	err := jsonl.Each(l, func(r rec) error {
		seen++
		if r.N == 1 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 2, seen)
}

func TestRotateKeepsTail(t *testing.T) {
	l := openLog(t)
	for i := range 5 {
		require.NoError(t, l.Append(rec{N: i}))
	}
	sink := &memSink{}

	rot, err := l.Rotate(context.Background(), 2, sink)
	require.NoError(t, err)
	assert.True(t, rot.Rotated())
	assert.Equal(t, 5, rot.Before)
	assert.Equal(t, 2, rot.After)
	assert.Equal(t, "mem://series.jsonl", rot.Location)
	assert.Equal(t, "series.jsonl", sink.name)
	assert.Equal(t, 5, strings.Count(sink.data, "\n"))

	got, err := jsonl.Tail[rec](l, 0)
	require.NoError(t, err)
	assert.Equal(t, []rec{{3}, {4}}, got)

	require.NoError(t, l.Append(rec{N: 5}))
	got, err = jsonl.Tail[rec](l, 0)
	require.NoError(t, err)
	assert.Equal(t, []rec{{3}, {4}, {5}}, got)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(l.Path()), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRotateBelowKeepIsNoop(t *testing.T) {
	l := openLog(t)
	require.NoError(t, l.Append(rec{N: 1}))
	sink := &memSink{}

	rot, err := l.Rotate(context.Background(), 10, sink)
	require.NoError(t, err)
	assert.False(t, rot.Rotated())
	assert.Empty(t, sink.name)
}

func TestRotateArchiveFailureLeavesFile(t *testing.T) {
	l := openLog(t)
	for i := range 4 {
		require.NoError(t, l.Append(rec{N: i}))
	}

	_, err := l.Rotate(context.Background(), 1, &memSink{err: errors.New("bucket gone")})
	require.Error(t, err)

	got, err := jsonl.Tail[rec](l, 0)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}
