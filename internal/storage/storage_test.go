package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_Put(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	s, err := NewLocalStorage(dir, "http://localhost:8083/")
	require.NoError(t, err)

	url, err := s.Put(context.Background(), strings.NewReader("png bytes"), "../../etc/passwd.png", "image/png")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://localhost:8083/uploads/"), url)
	assert.True(t, strings.HasSuffix(url, ".png"))

	name := strings.TrimPrefix(url, "http://localhost:8083/uploads/")
	assert.NotContains(t, name, "passwd")
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(data))
}

func TestLocalStorage_UniqueNames(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	a, err := s.Put(context.Background(), strings.NewReader("a"), "frame.jpg", "image/jpeg")
	require.NoError(t, err)
	b, err := s.Put(context.Background(), strings.NewReader("b"), "frame.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestLocalStorage_FailedWriteLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "")
	require.NoError(t, err)

	_, err = s.Put(context.Background(), failingReader{}, "frame.png", "image/png")
	assert.ErrorContains(t, err, "failed to write file")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Put(ctx, strings.NewReader("x"), "frame.png", "image/png")
	assert.ErrorIs(t, err, context.Canceled)
}
