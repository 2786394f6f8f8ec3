// Package storage keeps uploaded screenshots and extracted video frames so
// an analysis can reference them by URL.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FrameStorage is the only interface the frame handler depends on.
type FrameStorage interface {
	// Put stores one frame and returns the URL it is served from.
	Put(ctx context.Context, r io.Reader, filename, contentType string) (string, error)
}

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// LocalStorage writes frames to a directory that the API serves under
// /uploads/.
type LocalStorage struct {
	UploadDir string
	BaseURL   string // e.g. "http://localhost:8083"
}

func NewLocalStorage(uploadDir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalStorage{UploadDir: uploadDir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStorage) Put(ctx context.Context, r io.Reader, filename, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// A generated name keeps client-supplied paths off the disk and stops
	// two users' frames from colliding.
	ext, ok := extensions[contentType]
	if !ok {
		ext = strings.ToLower(filepath.Ext(filename))
	}
	name := uuid.New().String() + ext
	path := filepath.Join(s.UploadDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return fmt.Sprintf("%s/uploads/%s", s.BaseURL, name), nil
}
