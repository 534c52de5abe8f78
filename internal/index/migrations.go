package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is one forward-only schema step. Apply must be safe to run
// against a store a previous interrupted run already touched, so every step
// checks for existence before creating.
type Migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, tx *sql.Tx) error
}

// migrationChain is append-only. Never reorder or rewrite released steps.
var migrationChain = []Migration{
	{
		Version: 1,
		Name:    "create_photos",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS photos (
					local_id TEXT PRIMARY KEY,
					remote_id TEXT,
					media_kind TEXT NOT NULL,
					location_ref TEXT NOT NULL
				)`)
			return err
		},
	},
	{
		Version: 2,
		Name:    "create_remote_photos",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS remote_photos (
					remote_id TEXT PRIMARY KEY,
					media_kind TEXT NOT NULL,
					file_name TEXT,
					file_size INTEGER,
					uploaded_at INTEGER NOT NULL,
					thumbnail_cached INTEGER NOT NULL DEFAULT 0
				)`)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				"CREATE INDEX IF NOT EXISTS idx_remote_uploaded_at ON remote_photos(uploaded_at)")
			return err
		},
	},
	{
		Version: 3,
		Name:    "create_deleted_photos",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS deleted_photos (
					remote_id TEXT PRIMARY KEY,
					media_kind TEXT NOT NULL,
					file_name TEXT,
					file_size INTEGER,
					uploaded_at INTEGER NOT NULL,
					thumbnail_cached INTEGER NOT NULL DEFAULT 0,
					deleted_at INTEGER NOT NULL
				)`)
			return err
		},
	},
	{
		Version: 4,
		Name:    "photos_date_modified",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			return addColumn(ctx, tx, "photos", "date_modified", "INTEGER NOT NULL DEFAULT 0")
		},
	},
	{
		Version: 5,
		Name:    "message_id",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			if err := addColumn(ctx, tx, "remote_photos", "message_id", "INTEGER DEFAULT NULL"); err != nil {
				return err
			}
			return addColumn(ctx, tx, "deleted_photos", "message_id", "INTEGER DEFAULT NULL")
		},
	},
	{
		Version: 6,
		Name:    "upload_channel",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			if err := addColumn(ctx, tx, "remote_photos", "upload_channel", "TEXT DEFAULT NULL"); err != nil {
				return err
			}
			return addColumn(ctx, tx, "deleted_photos", "upload_channel", "TEXT DEFAULT NULL")
		},
	},
	{
		Version: 7,
		Name:    "create_sync_state",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS sync_state (
					name TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at INTEGER NOT NULL
				)`)
			return err
		},
	},
}

// addColumn is a guarded ALTER TABLE; sqlite has no IF NOT EXISTS for columns.
func addColumn(ctx context.Context, tx *sql.Tx, table, column, definition string) error {
	exists, err := columnExists(ctx, tx, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to read table info for %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("failed to scan table info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// initMigrationTable creates the migration tracking table.
func initMigrationTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// schemaVersion returns the highest applied migration version.
func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

func migrationApplied(ctx context.Context, db *sql.DB, version int) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}
	return count > 0, nil
}

// applyMigration runs one step and records it in the same transaction.
func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := migration.Apply(ctx, tx); err != nil {
		return fmt.Errorf("failed to execute migration %d (%s): %w",
			migration.Version, migration.Name, err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		migration.Version, migration.Name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}

// migrateToLatest applies every pending step of the chain in order, skipping
// versions an earlier (possibly interrupted) run already applied.
func migrateToLatest(ctx context.Context, db *sql.DB) error {
	if err := initMigrationTable(ctx, db); err != nil {
		return err
	}
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	for _, migration := range migrationChain {
		if migration.Version <= current {
			continue
		}
		applied, err := migrationApplied(ctx, db, migration.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}
	}
	return nil
}
