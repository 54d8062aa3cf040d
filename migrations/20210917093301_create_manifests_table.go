package migrations

import migrate "github.com/rubenv/sql-migrate"

func init() {
	m := &migrate.Migration{
		Id: "20210917093301_create_manifests_table",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS manifests (
				id bigint NOT NULL GENERATED BY DEFAULT AS IDENTITY,
				repository_id bigint NOT NULL,
				digest text NOT NULL,
				media_type text NOT NULL,
				payload bytea NOT NULL,
				created_at timestamp WITH time zone NOT NULL DEFAULT now(),
				CONSTRAINT pk_manifests PRIMARY KEY (id),
				CONSTRAINT fk_manifests_repository_id_repositories FOREIGN KEY (repository_id) REFERENCES repositories (id) ON DELETE CASCADE,
				CONSTRAINT unique_manifests_repository_id_and_digest UNIQUE (repository_id, digest)
			)`,
			`CREATE INDEX IF NOT EXISTS index_manifests_on_repository_id_and_created_at ON manifests (repository_id, created_at DESC)`,
		},
		Down: []string{
			"DROP TABLE IF EXISTS manifests CASCADE",
		},
	}

	allMigrations = append(allMigrations, m)
}
