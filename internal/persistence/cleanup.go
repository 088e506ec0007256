package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// ClearDatabase removes every persisted EEPROM cell.
func ClearDatabase(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database is not initialized")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear database tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	//goland:noinspection SqlWithoutWhere
	if _, err := tx.ExecContext(ctx, `DELETE FROM eeprom;`); err != nil {
		return fmt.Errorf("clear eeprom: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear database tx: %w", err)
	}

	return nil
}

// ClearNodes forgets the gateway's node directory.
func ClearNodes(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database is not initialized")
	}

	//goland:noinspection SqlWithoutWhere
	if _, err := db.ExecContext(ctx, `DELETE FROM nodes;`); err != nil {
		return fmt.Errorf("clear nodes: %w", err)
	}

	return nil
}
