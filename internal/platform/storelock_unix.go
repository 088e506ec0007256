//go:build unix

package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

type unixStoreLock struct {
	file *os.File
}

func acquireStoreLock(lockPath string) (StoreLock, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return nil, fmt.Errorf("create store lock dir: %w", err)
	}

	// #nosec G304 -- lockPath is derived from the configured store path.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open store lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, ErrStoreInUse
		}

		return nil, fmt.Errorf("acquire store file lock: %w", err)
	}

	return &unixStoreLock{file: file}, nil
}

func (l *unixStoreLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	fd := int(l.file.Fd())
	unlockErr := syscall.Flock(fd, syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil && !errors.Is(unlockErr, syscall.EBADF) {
		return fmt.Errorf("unlock store file lock: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close store lock file: %w", closeErr)
	}

	return nil
}
