package platform

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrStoreInUse indicates another process already runs a node on the same
// storage image.
var ErrStoreInUse = errors.New("store already in use")

// ErrStoreLockUnsupported indicates the current platform has no lock backend.
var ErrStoreLockUnsupported = errors.New("store lock unsupported")

// StoreLock is an acquired exclusive claim on a storage image.
type StoreLock interface {
	Release() error
}

// LockStore claims the image at storePath for this process. The lock lives
// in a sibling file so the database itself is never locked.
func LockStore(storePath string) (StoreLock, error) {
	return acquireStoreLock(storeLockPath(storePath))
}

func storeLockPath(storePath string) string {
	dir, file := filepath.Split(filepath.Clean(storePath))

	return filepath.Join(dir, "."+normalizeLockComponent(file, "store")+".lock")
}

func normalizeLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
