package filestore

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Lock acquisition defaults. A lock file older than staleLockAge is assumed
// to belong to a crashed process and is removed.
const (
	lockAttempts     = 50
	lockRetryDelay   = 100 * time.Millisecond
	staleLockAge     = 30 * time.Second
	lockFileSuffix   = ".lock"
	lockFilePerm     = 0o600
	tempFileSuffix   = ".tmp"
	dataFilePerm     = 0o600
	defaultLockLimit = time.Duration(lockAttempts) * lockRetryDelay
)

// ErrLockTimeout is returned when another process holds the lock for longer
// than the acquisition budget.
var ErrLockTimeout = errors.New("timeout waiting for file lock")

// fileLock is an exclusive advisory lock held through a sibling ".lock" file.
type fileLock struct {
	lockFile *os.File
	lockPath string
}

// acquireFileLock takes the lock guarding path, waiting for other holders
// and clearing stale lock files.
func acquireFileLock(path string) (*fileLock, error) {
	lockPath := path + lockFileSuffix

	for range lockAttempts {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, lockFilePerm)
		if err == nil {
			// PID helps when someone has to clean up by hand
			fmt.Fprintf(f, "%d", os.Getpid())
			return &fileLock{lockFile: f, lockPath: lockPath}, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil &&
			time.Since(info.ModTime()) > staleLockAge {
			if remErr := os.Remove(lockPath); remErr != nil && !os.IsNotExist(remErr) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, remErr)
			}
			continue
		}

		time.Sleep(lockRetryDelay)
	}

	return nil, fmt.Errorf("%w after %v", ErrLockTimeout, defaultLockLimit)
}

// release drops the lock. Releasing twice returns the os.Remove error.
func (fl *fileLock) release() error {
	if fl.lockFile != nil {
		fl.lockFile.Close()
		fl.lockFile = nil
	}
	return os.Remove(fl.lockPath)
}
