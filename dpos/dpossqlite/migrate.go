package dpossqlite

import (
	"context"
	"database/sql"
	"fmt"
)

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`CREATE TABLE IF NOT EXISTS migrations(
  id INTEGER PRIMARY KEY CHECK (id = 0),
  version INTEGER
);`,
	); err != nil {
		return fmt.Errorf("error getting initial migrations table: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO migrations(id, version) VALUES (0, 0)`,
	); err != nil {
		return fmt.Errorf("error setting initial migration version: %w", err)
	}

	var migrationVersion int
	if err := tx.QueryRowContext(
		ctx, `SELECT version FROM migrations WHERE id=0;`,
	).Scan(&migrationVersion); err != nil {
		return fmt.Errorf("failed to scan migration version: %w", err)
	}

	if err := migrateFrom(ctx, tx, migrationVersion); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}

func migrateFrom(ctx context.Context, tx *sql.Tx, version int) error {
	switch version {
	case 0:
		if err := migrateInitial(ctx, tx); err != nil {
			return fmt.Errorf("initial migration: %w", err)
		}
		if err := setMigrationVersion(ctx, tx, 1); err != nil {
			return err
		}
		fallthrough
	case 1:
		if err := migrateRoundHeight(ctx, tx); err != nil {
			return fmt.Errorf("round height migration: %w", err)
		}
		if err := setMigrationVersion(ctx, tx, 2); err != nil {
			return err
		}
	case 2:
		// Up to date.
		return nil
	default:
		return fmt.Errorf("unknown migration version %d", version)
	}

	// https://sqlite.org/pragma.html#pragma_optimize:
	// "All applications should run `PRAGMA optimize;` after a schema change".
	if _, err := tx.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to run PRAGMA optimize after migration: %w", err)
	}

	return nil
}

func migrateInitial(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(
		ctx,
		// Rounds are stored whole, as deterministic CBOR.
		// The hash column is the consensus hash of the round,
		// checked again on every load.
		`
CREATE TABLE rounds(
  number INTEGER PRIMARY KEY NOT NULL CHECK (number > 0),
  term INTEGER NOT NULL CHECK (term > 0),
  hash BLOB NOT NULL,
  data BLOB NOT NULL
);`+

			// Single row holding the last irreversible block height.
			// CHECK id=0 limits the table to that row.
			`
CREATE TABLE irreversible(
  id INTEGER PRIMARY KEY CHECK (id = 0),
  height INTEGER NOT NULL CHECK (height >= 0),
  round_number INTEGER NOT NULL CHECK (round_number >= 0)
);
INSERT INTO irreversible VALUES(0, 0, 0);
`+

			// Consistent end of long concatenated literal, to minimize diffs.
			"",
	)

	return err
}

// migrateRoundHeight adds the last applied block height to every round.
// Rounds saved before it existed report height zero.
func migrateRoundHeight(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(
		ctx,
		`ALTER TABLE rounds ADD COLUMN height INTEGER NOT NULL DEFAULT 0 CHECK (height >= 0);`,
	)
	return err
}

func setMigrationVersion(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE migrations SET version = ? WHERE id = 0`,
		version,
	); err != nil {
		return fmt.Errorf("error setting migration version to %d: %w", version, err)
	}

	return nil
}
