// Package fsutil provides the filesystem abstraction used by the output
// writers, with an OS implementation and an in-memory one for tests.
package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/emis-air/airnode/internal/monitoring"
)

// File is an open, append-only output file.
type File interface {
	io.Writer
	// Sync commits the written bytes to stable storage.
	Sync() error
	Close() error
}

// FileSystem abstracts the filesystem operations the writers need.
// Use OSFileSystem for production; MemoryFileSystem for testing.
type FileSystem interface {
	// Open opens the named file for reading.
	Open(name string) (fs.File, error)

	// OpenAppend opens the named file for appending, creating it if needed.
	OpenAppend(name string, perm os.FileMode) (File, error)

	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// Stat returns a FileInfo describing the named file.
	Stat(name string) (fs.FileInfo, error)

	// MkdirAll creates a directory and all necessary parents.
	MkdirAll(path string, perm os.FileMode) error

	// Rename atomically replaces newpath with oldpath.
	Rename(oldpath, newpath string) error

	// Truncate changes the size of the named file.
	Truncate(name string, size int64) error

	// Remove removes the named file or empty directory.
	Remove(name string) error

	// Exists checks if a file or directory exists.
	Exists(name string) bool
}

// OSFileSystem implements FileSystem using the os package.
type OSFileSystem struct{}

func (OSFileSystem) Open(name string) (fs.File, error) {
	return os.Open(name)
}

func (OSFileSystem) OpenAppend(name string, perm os.FileMode) (File, error) {
	return os.OpenFile(name, os.O_WRONLY|os.O_APPEND|os.O_CREATE, perm)
}

func (OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Rename renames oldpath to newpath and then syncs the parent directory so
// the new directory entry survives a power cut.
func (OSFileSystem) Rename(oldpath, newpath string) error {
	if err := os.Rename(oldpath, newpath); err != nil {
		return err
	}
	return syncDir(filepath.Dir(newpath))
}

func (OSFileSystem) Truncate(name string, size int64) error {
	return os.Truncate(name, size)
}

func (OSFileSystem) Remove(name string) error {
	return os.Remove(name)
}

func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// syncDir is best effort: not every filesystem supports fsync on a
// directory handle, and the rename itself has already happened. Failures
// are logged so a rename that may not survive a power cut is visible.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		monitoring.Logf("fsutil: open %s for sync: %v", dir, err)
		return nil
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		monitoring.Logf("fsutil: sync %s: %v", dir, err)
	}
	return nil
}
