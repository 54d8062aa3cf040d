package registry

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploys-app/registry/migrations"
)

func init() {
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(DBCmd)

	DBCmd.AddCommand(MigrateCmd)
	MigrateCmd.AddCommand(MigrateUpCmd)
	MigrateCmd.AddCommand(MigrateDownCmd)
	MigrateCmd.AddCommand(MigrateVersionCmd)
}

// RootCmd is the main command for the 'registry' binary.
var RootCmd = &cobra.Command{
	Use:   "registry",
	Short: "`registry`",
	Long:  "`registry`",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Usage()
	},
}

// DBCmd is the root of database-related commands.
var DBCmd = &cobra.Command{
	Use:   "database",
	Short: "Manage the registry metadata database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Usage()
	},
}

// MigrateCmd is the root of migration commands.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Usage()
	},
}

// MigrateUpCmd applies all pending migrations.
var MigrateUpCmd = &cobra.Command{
	Use:   "up <config>",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := resolveMigrator(args)
		if err != nil {
			return err
		}

		if err := m.Up(); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		version, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("migrated to %s\n", version)
		return nil
	},
}

// MigrateDownCmd rolls back applied migrations.
var MigrateDownCmd = &cobra.Command{
	Use:   "down <config>",
	Short: "Roll back applied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := resolveMigrator(args)
		if err != nil {
			return err
		}

		if err := m.Down(); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}

		version, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("rolled back to %s\n", version)
		return nil
	},
}

// MigrateVersionCmd prints the current and latest known schema versions.
var MigrateVersionCmd = &cobra.Command{
	Use:   "version <config>",
	Short: "Show the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := resolveMigrator(args)
		if err != nil {
			return err
		}

		version, err := m.Version()
		if err != nil {
			return err
		}
		latest, err := m.LatestVersion()
		if err != nil {
			return err
		}

		fmt.Printf("current: %s\nlatest:  %s\n", version, latest)
		return nil
	},
}

func resolveMigrator(args []string) (*migrations.Migrator, error) {
	config, err := resolveConfiguration(args)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	log, err := configureLogging(config)
	if err != nil {
		return nil, fmt.Errorf("error configuring logger: %w", err)
	}

	db, err := openDatabase(config, log)
	if err != nil {
		return nil, err
	}

	return migrations.NewMigrator(db.DB), nil
}
