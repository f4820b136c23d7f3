package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/txn2/mcp-weather/pkg/database/migrate"
	"github.com/txn2/mcp-weather/pkg/platform"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect database schema migrations",
	}
	cmd.AddCommand(newMigrateUpCmd(), newMigrateDownCmd(), newMigrateVersionCmd())
	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := migrate.Run(db, cfg.Database.Driver); err != nil {
				return err
			}
			return printVersion(cmd, db, cfg)
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if steps > 0 {
				err = migrate.Steps(db, cfg.Database.Driver, -steps)
			} else {
				err = migrate.Down(db, cfg.Database.Driver)
			}
			if err != nil {
				return err
			}
			return printVersion(cmd, db, cfg)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to roll back (default: all)")
	return cmd
}

func newMigrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return printVersion(cmd, db, cfg)
		},
	}
}

func printVersion(cmd *cobra.Command, db *sql.DB, cfg *platform.Config) error {
	version, dirty, err := migrate.Version(db, cfg.Database.Driver)
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
	return nil
}
