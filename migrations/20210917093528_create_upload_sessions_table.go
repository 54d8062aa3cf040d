package migrations

import migrate "github.com/rubenv/sql-migrate"

func init() {
	m := &migrate.Migration{
		Id: "20210917093528_create_upload_sessions_table",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS upload_sessions (
				id text NOT NULL,
				repository text NOT NULL,
				received_bytes bigint NOT NULL DEFAULT 0,
				created_at timestamp WITH time zone NOT NULL DEFAULT now(),
				last_activity timestamp WITH time zone NOT NULL DEFAULT now(),
				CONSTRAINT pk_upload_sessions PRIMARY KEY (id)
			)`,
			`CREATE INDEX IF NOT EXISTS index_upload_sessions_on_last_activity ON upload_sessions (last_activity)`,
		},
		Down: []string{
			"DROP TABLE IF EXISTS upload_sessions CASCADE",
		},
	}

	allMigrations = append(allMigrations, m)
}
