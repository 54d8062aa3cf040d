package migrations

import migrate "github.com/rubenv/sql-migrate"

func init() {
	m := &migrate.Migration{
		Id: "20210917093154_create_blobs_table",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS blobs (
				id bigint NOT NULL GENERATED BY DEFAULT AS IDENTITY,
				repository_id bigint NOT NULL,
				digest text NOT NULL,
				size bigint NOT NULL,
				created_at timestamp WITH time zone NOT NULL DEFAULT now(),
				CONSTRAINT pk_blobs PRIMARY KEY (id),
				CONSTRAINT fk_blobs_repository_id_repositories FOREIGN KEY (repository_id) REFERENCES repositories (id) ON DELETE CASCADE,
				CONSTRAINT unique_blobs_repository_id_and_digest UNIQUE (repository_id, digest)
			)`,
		},
		Down: []string{
			"DROP TABLE IF EXISTS blobs CASCADE",
		},
	}

	allMigrations = append(allMigrations, m)
}
