package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SQLiteStore serves reads from an in-memory copy of the image and persists
// changed cells through a WriterQueue.
type SQLiteStore struct {
	db     *sql.DB
	writer *WriterQueue
	logger *slog.Logger

	mu    sync.RWMutex
	image [EEPROMSize]byte
}

func NewSQLiteStore(ctx context.Context, db *sql.DB, writer *WriterQueue, logger *slog.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("database is not initialized")
	}
	if writer == nil {
		return nil, errors.New("writer queue is not initialized")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &SQLiteStore{db: db, writer: writer, logger: logger}
	for i := range s.image {
		s.image[i] = Erased
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT addr, value FROM eeprom ORDER BY addr;`)
	if err != nil {
		return fmt.Errorf("query eeprom: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cells := 0
	for rows.Next() {
		var addr, value int
		if err := rows.Scan(&addr, &value); err != nil {
			return fmt.Errorf("scan eeprom cell: %w", err)
		}
		if !inImage(addr) {
			continue
		}
		// #nosec G115 -- value is constrained to 0..255 by the schema.
		s.image[addr] = byte(value)
		cells++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate eeprom: %w", err)
	}
	s.logger.Debug("eeprom loaded", "cells", cells)

	return nil
}

func (s *SQLiteStore) ReadConfig(addr int) byte {
	if !inImage(addr) {
		return Erased
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.image[addr]
}

func (s *SQLiteStore) WriteConfig(addr int, v byte) {
	s.WriteConfigBlock([]byte{v}, addr)
}

func (s *SQLiteStore) ReadConfigBlock(dst []byte, addr int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range dst {
		if inImage(addr + i) {
			dst[i] = s.image[addr+i]
		} else {
			dst[i] = Erased
		}
	}
}

// WriteConfigBlock updates the image immediately. Only cells whose value
// changed are queued for persistence.
func (s *SQLiteStore) WriteConfigBlock(src []byte, addr int) {
	type cell struct {
		addr  int
		value byte
	}

	s.mu.Lock()
	changed := make([]cell, 0, len(src))
	for i, v := range src {
		a := addr + i
		if !inImage(a) || s.image[a] == v {
			continue
		}
		s.image[a] = v
		changed = append(changed, cell{addr: a, value: v})
	}
	s.mu.Unlock()

	if len(changed) == 0 {
		return
	}

	now := toUnixMillis(time.Now())
	s.writer.Enqueue(fmt.Sprintf("eeprom@%d+%d", addr, len(src)), func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin eeprom tx: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()
		for _, c := range changed {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO eeprom(addr, value, updated_at)
				VALUES (?, ?, ?)
				ON CONFLICT(addr) DO UPDATE SET
					value = excluded.value,
					updated_at = excluded.updated_at
			`, c.addr, int(c.value), now); err != nil {
				return fmt.Errorf("upsert eeprom cell %d: %w", c.addr, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit eeprom tx: %w", err)
		}

		return nil
	})
}

// Flush blocks until all queued writes reached the database.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	return s.writer.Flush(ctx)
}

// Dump returns a copy of the image.
func (s *SQLiteStore) Dump() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]byte(nil), s.image[:]...)
}

// LastWrite returns when any cell was last persisted.
func (s *SQLiteStore) LastWrite(ctx context.Context) (time.Time, error) {
	var ms sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM eeprom;`).Scan(&ms); err != nil {
		return time.Time{}, fmt.Errorf("query last write: %w", err)
	}
	if !ms.Valid {
		return time.Time{}, nil
	}

	return fromUnixMillis(ms.Int64), nil
}

// Erase resets the whole image to Erased, on disk and in memory.
func (s *SQLiteStore) Erase(ctx context.Context) error {
	if err := s.writer.Flush(ctx); err != nil {
		return err
	}
	if err := ClearDatabase(ctx, s.db); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.image {
		s.image[i] = Erased
	}

	return nil
}

func toUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixMilli()
}

func fromUnixMillis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}

	return time.UnixMilli(v)
}
