// Package osfilesystem provides a filesystem implementation using the os package.
package osfilesystem

import (
	"os"
	"path/filepath"

	"github.com/user/detectshow/pkg/ports"
)

// FileSystem implements ports.FileSystem using the os package.
type FileSystem struct {
	tempDir string
}

// New creates a new FileSystem whose temporary artifacts go to the
// system temp directory.
func New() *FileSystem {
	return &FileSystem{}
}

// NewWithTempDir creates a FileSystem that places temporary artifacts in dir.
func NewWithTempDir(dir string) *FileSystem {
	return &FileSystem{tempDir: dir}
}

// ReadFile reads the entire contents of a file.
func (fs *FileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data to a file, creating it if necessary.
func (fs *FileSystem) WriteFile(path string, data []byte) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// MkdirAll creates a directory and all parent directories.
func (fs *FileSystem) MkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

// Exists checks if a file or directory exists.
func (fs *FileSystem) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Size returns the size of a file in bytes.
func (fs *FileSystem) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes a file or empty directory.
func (fs *FileSystem) Remove(path string) error {
	return os.Remove(path)
}

// RemoveAll deletes path and everything below it. A missing path is not
// an error.
func (fs *FileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// TempDir returns the directory for run-scoped temporary artifacts.
func (fs *FileSystem) TempDir() string {
	if fs.tempDir != "" {
		return fs.tempDir
	}
	return os.TempDir()
}

// Ensure FileSystem implements ports.FileSystem
var _ ports.FileSystem = (*FileSystem)(nil)
