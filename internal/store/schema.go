package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// migrate applies the idempotent schema and records its version. A
// database written by a newer release is rejected.
func migrate(ctx context.Context, db *sql.DB) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	version, err := readVersion(ctx, tx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, "INSERT INTO metadata(key, value) VALUES('schema_version', ?)", strconv.Itoa(schemaVersion)); err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
	case err != nil:
		return err
	case version > schemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
	}

	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readVersion(ctx context.Context, q queryer) (int, error) {
	var versionStr string
	err := q.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&versionStr)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return 0, fmt.Errorf("parse schema version: %w", err)
	}
	return version, nil
}

// SchemaVersion returns the version recorded in the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	return readVersion(ctx, s.db)
}
