package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Local stores files under a base path of an afero filesystem.
type Local struct {
	fs       afero.Fs
	basePath string
}

// NewLocal creates a Local rooted at basePath on the OS filesystem.
func NewLocal(basePath string) *Local {
	return NewLocalFs(afero.NewOsFs(), basePath)
}

// NewLocalFs creates a Local on an arbitrary filesystem.
func NewLocalFs(fs afero.Fs, basePath string) *Local {
	return &Local{fs: fs, basePath: basePath}
}

// Save stores src in subdir under filename and returns the path relative to
// the base path.
func (s *Local) Save(_ context.Context, subdir, filename string, src io.Reader) (string, error) {
	dir := filepath.Join(s.basePath, subdir)
	if err := s.fs.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	dstPath := filepath.Join(dir, filename)
	dst, err := s.fs.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file %s: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to save file %s: %w", dstPath, err)
	}

	return filepath.Join(subdir, filename), nil
}

// Load opens a file. Relative paths resolve against the base path.
func (s *Local) Load(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := s.fs.Open(s.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	return f, nil
}

// Delete removes a file.
func (s *Local) Delete(_ context.Context, path string) error {
	return s.fs.Remove(s.resolve(path))
}

func (s *Local) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.basePath, path)
}
