// Package storage reads segment audio by logical path.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no object exists at a logical path.
var ErrNotFound = errors.New("audio file not found")

// FileStorage resolves logical paths against a single private root.
type FileStorage interface {
	ReadBytes(ctx context.Context, path string) ([]byte, error)
	FileSize(ctx context.Context, path string) (int64, error)
	Remove(ctx context.Context, path string) error
}

// Local stores audio files under a root directory on disk.
type Local struct {
	root string
}

// NewLocal returns a Local rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string {
	return l.root
}

// Resolve maps a logical path to an absolute path inside the root.
func (l *Local) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	full := filepath.Join(l.root, filepath.FromSlash(path))
	if full != l.root && !strings.HasPrefix(full, l.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes storage root", path)
	}
	return full, nil
}

func (l *Local) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	full, err := l.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return data, err
}

func (l *Local) FileSize(ctx context.Context, path string) (int64, error) {
	full, err := l.Resolve(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

// Remove deletes the file; a missing file is not an error.
func (l *Local) Remove(ctx context.Context, path string) error {
	full, err := l.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
