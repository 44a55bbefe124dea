// Package queue provides the durable offline queue for failed submissions.
//
// This file implements a file-backed storage adapter for hosts without a
// database: one file per key inside a state directory, written via a
// temp-file rename under an flock so concurrent processes sharing the state
// directory cannot interleave partial writes.
package queue

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// File storage layout constants.
const (
	// fileStorageLockName is the lock file guarding writes in the state directory.
	fileStorageLockName = ".reportpipe.lock"
	// fileStorageExt is the extension given to persisted entries.
	fileStorageExt = ".json"
	// fileStoragePermissions applies to persisted entry files.
	fileStoragePermissions = 0644
)

// Compile-time check that FileStorage implements Storage.
var _ Storage = (*FileStorage)(nil)

// FileStorage persists each key as a file in a state directory.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a file storage adapter rooted at dir, creating the
// directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory not set")
	}
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create state directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	slog.Debug("File storage ready", "dir", dir)
	return &FileStorage{dir: dir}, nil
}

func (s *FileStorage) Get(key string) (string, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		slog.Error("FileStorage.Get failed", "error", err, "key", key)
		return "", fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return string(data), nil
}

func (s *FileStorage) Set(key, value string) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	// Write to a temp file and rename so readers never observe a torn write.
	path := s.path(key)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		slog.Error("FileStorage.Set: temp file creation failed", "error", err, "key", key)
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		slog.Error("FileStorage.Set: write failed", "error", err, "key", key)
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	if err := os.Chmod(tmpName, fileStoragePermissions); err != nil {
		slog.Warn("FileStorage.Set: chmod failed", "error", err, "key", key)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		slog.Error("FileStorage.Set: rename failed", "error", err, "key", key)
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (s *FileStorage) Remove(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		slog.Error("FileStorage.Remove failed", "error", err, "key", key)
		return fmt.Errorf("failed to remove key %s: %w", key, err)
	}
	return nil
}

// path maps a storage key to a file inside the state directory. Path
// separators in keys are flattened so a key can never escape the directory.
func (s *FileStorage) path(key string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(s.dir, safe+fileStorageExt)
}

// lock acquires an exclusive flock on the state directory's lock file. The
// lock is released by the returned function and by the kernel if the process
// dies mid-write.
func (s *FileStorage) lock() (func(), error) {
	lockPath := filepath.Join(s.dir, fileStorageLockName)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_WRONLY, fileStoragePermissions)
	if err != nil {
		slog.Error("FileStorage.lock: failed to open lock file", "error", err, "lock_path", lockPath)
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		slog.Error("FileStorage.lock: flock failed", "error", err, "lock_path", lockPath)
		return nil, fmt.Errorf("failed to lock %s: %w", lockPath, err)
	}
	return func() {
		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
			slog.Error("FileStorage.lock: unlock failed", "error", err, "lock_path", lockPath)
		}
		f.Close()
	}, nil
}
