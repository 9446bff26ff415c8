package db

import (
	"context"

	"github.com/pkg/errors"
)

func schemaStatements(dialect Dialect) []string {
	createdAtType := "TIMESTAMP WITH TIME ZONE"
	if dialect == SQLite {
		createdAtType = "TIMESTAMP"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS inquiries (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			mobile TEXT NOT NULL,
			message TEXT NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at ` + createdAtType + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS inquiries_is_read_index ON inquiries (is_read)`,
		`CREATE INDEX IF NOT EXISTS inquiries_created_at_index ON inquiries (created_at)`,
	}
}

// Migrate creates the inquiries table and its indexes if they don't exist yet.
func (d *Database) Migrate(ctx context.Context) error {
	wrapMsg := "unable to create the inquiries schema"

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	defer tx.Rollback()

	for _, statement := range schemaStatements(d.dialect) {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return errors.Wrap(err, wrapMsg)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}
