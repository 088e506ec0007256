package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/skobkin/sensornet/internal/persistence"
	"github.com/skobkin/sensornet/internal/platform"
)

// StateStore is an open, locked node state database.
type StateStore struct {
	Path   string
	DB     *sql.DB
	Writer *persistence.WriterQueue
	Store  *persistence.SQLiteStore

	lock       platform.StoreLock
	stopWriter context.CancelFunc
}

// OpenStateStore locks and opens the state database at path. It fails with
// platform.ErrStoreInUse while another process holds it.
func OpenStateStore(ctx context.Context, path string, logger *slog.Logger) (*StateStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &StateStore{Path: path}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	lock, err := platform.LockStore(path)
	switch {
	case errors.Is(err, platform.ErrStoreLockUnsupported):
		logger.Warn("store lock unavailable", "error", err)
	case err != nil:
		return nil, fmt.Errorf("lock store %s: %w", path, err)
	default:
		s.lock = lock
	}

	db, err := persistence.Open(ctx, path)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.DB = db

	// Writes must outlive ctx so Close can flush them.
	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	s.stopWriter = stopWriter
	s.Writer = persistence.NewWriterQueue(logger, writerQueueSize)
	s.Writer.Start(writerCtx)

	store, err := persistence.NewSQLiteStore(ctx, db, s.Writer, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Store = store

	return s, nil
}

// Close flushes pending writes and releases the database.
func (s *StateStore) Close() error {
	var errs []error
	if s.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		errs = append(errs, s.Store.Flush(ctx))
		cancel()
	}
	if s.stopWriter != nil {
		s.stopWriter()
	}
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Release())
	}

	return errors.Join(errs...)
}

// StateSummary is the decoded view of a state image.
type StateSummary struct {
	Node       persistence.NodeConfig
	Controller persistence.ControllerConfig
	Locked     bool
	LockReason string
}

func SummarizeState(s persistence.Store) StateSummary {
	locked, reason := persistence.LockState(s)

	return StateSummary{
		Node:       persistence.LoadNodeConfig(s),
		Controller: persistence.LoadControllerConfig(s),
		Locked:     locked,
		LockReason: reason,
	}
}
