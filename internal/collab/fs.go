package collab

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
)

// OSFileSystem is the default FileSystem collaborator, backed by the real
// filesystem.
type OSFileSystem struct{}

// NewOSFileSystem builds the default filesystem collaborator.
func NewOSFileSystem() *OSFileSystem { return &OSFileSystem{} }

func (f *OSFileSystem) Read(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", mlerr.Wrap(mlerr.FileNotFound, err, "file not found: %s", path).WithContext("path", path)
		}
		return "", mlerr.Wrap(mlerr.FileError, err, "reading %s", path).WithContext("path", path)
	}
	return string(data), nil
}

func (f *OSFileSystem) Write(_ context.Context, path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return mlerr.Wrap(mlerr.FileError, err, "creating parent dirs for %s", path)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return mlerr.Wrap(mlerr.FileError, err, "writing %s", path)
	}
	return nil
}

func (f *OSFileSystem) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, mlerr.Wrap(mlerr.FileError, err, "stat %s", path)
}

func (f *OSFileSystem) IsDirectory(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, mlerr.Wrap(mlerr.FileNotFound, err, "file not found: %s", path)
		}
		return false, mlerr.Wrap(mlerr.FileError, err, "stat %s", path)
	}
	return info.IsDir(), nil
}

func (f *OSFileSystem) Glob(_ context.Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, mlerr.Wrap(mlerr.FileError, err, "glob %s", pattern)
	}
	return matches, nil
}
