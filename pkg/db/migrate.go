package db

import (
	"context"
	_ "embed"

	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables used by the service if they do not exist yet. The connection must
// allow multiple statements.
func (db *DB) Migrate(ctx context.Context) error {
	return db.Execute(func(conn *sqlx.DB) error {
		if _, err := conn.ExecContext(ctx, schema); err != nil {
			db.logger.Errorf("failed to apply schema, error: %v", err)
			return err
		}
		db.logger.Infof("database schema applied")
		return nil
	})
}
