package migrations

import migrate "github.com/rubenv/sql-migrate"

func init() {
	m := &migrate.Migration{
		Id: "20210917093415_create_tags_table",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS tags (
				id bigint NOT NULL GENERATED BY DEFAULT AS IDENTITY,
				repository_id bigint NOT NULL,
				name text NOT NULL,
				digest text NOT NULL,
				created_at timestamp WITH time zone NOT NULL DEFAULT now(),
				CONSTRAINT pk_tags PRIMARY KEY (id),
				CONSTRAINT fk_tags_repository_id_repositories FOREIGN KEY (repository_id) REFERENCES repositories (id) ON DELETE CASCADE,
				CONSTRAINT unique_tags_repository_id_and_name UNIQUE (repository_id, name)
			)`,
			`CREATE INDEX IF NOT EXISTS index_tags_on_repository_id_and_created_at ON tags (repository_id, created_at DESC)`,
		},
		Down: []string{
			"DROP TABLE IF EXISTS tags CASCADE",
		},
	}

	allMigrations = append(allMigrations, m)
}
