package migrations

import (
	migrate "github.com/rubenv/sql-migrate"
)

var allMigrations []*migrate.Migration

// All returns the full, ordered list of known migrations.
func All() []*migrate.Migration {
	return allMigrations
}
