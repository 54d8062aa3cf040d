package migrations

import migrate "github.com/rubenv/sql-migrate"

func init() {
	m := &migrate.Migration{
		Id: "20210917093022_create_repositories_table",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS repositories (
				id bigint NOT NULL GENERATED BY DEFAULT AS IDENTITY,
				namespace text NOT NULL,
				name text NOT NULL,
				created_at timestamp WITH time zone NOT NULL DEFAULT now(),
				CONSTRAINT pk_repositories PRIMARY KEY (id),
				CONSTRAINT unique_repositories_name UNIQUE (name)
			)`,
			`CREATE INDEX IF NOT EXISTS index_repositories_on_namespace ON repositories (namespace)`,
		},
		Down: []string{
			"DROP TABLE IF EXISTS repositories CASCADE",
		},
	}

	allMigrations = append(allMigrations, m)
}
