package persistence

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register sqlite driver
)

const schemaVersion = 2

var migrations = []string{
	// 1: EEPROM cells
	`CREATE TABLE IF NOT EXISTS eeprom (
		addr       INTEGER PRIMARY KEY CHECK (addr >= 0 AND addr < 512),
		value      INTEGER NOT NULL CHECK (value >= 0 AND value <= 255),
		updated_at INTEGER NOT NULL
	);`,
	// 2: node directory kept by a gateway
	`CREATE TABLE IF NOT EXISTS nodes (
		node_id          INTEGER PRIMARY KEY CHECK (node_id >= 0 AND node_id < 256),
		presented        INTEGER NOT NULL DEFAULT 0,
		is_repeater      INTEGER NOT NULL DEFAULT 0,
		protocol_version TEXT,
		sketch_name      TEXT,
		sketch_version   TEXT,
		battery_level    INTEGER,
		last_hop         INTEGER NOT NULL,
		sensors_json     TEXT,
		last_heard_at    INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	);`,
}

func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// a single connection keeps writes from the queue and reads ordered
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA synchronous = NORMAL;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("set synchronous mode: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
	}

	for v := version; v < len(migrations); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("apply migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, v+1)); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("bump schema version to %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v+1, err)
		}
	}

	return nil
}
