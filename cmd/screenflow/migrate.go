package main

import (
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/screenflow/postgres"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newMigrateCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(flags, func(m *postgres.Migrator) error {
					if err := m.Up(); err != nil {
						return err
					}
					return printVersion(cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(flags, func(m *postgres.Migrator) error {
					if err := m.Down(); err != nil {
						return err
					}
					return printVersion(cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(flags, func(m *postgres.Migrator) error {
					return printVersion(cmd, m)
				})
			},
		},
	)
	return cmd
}

func withMigrator(flags *rootFlags, fn func(m *postgres.Migrator) error) error {
	cfg, logger, err := flags.load()
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return errors.New("SCREENFLOW_DATABASE_DSN is required")
	}
	migrator, err := postgres.NewMigrator(cfg.Database.DSN, logger)
	if err != nil {
		return err
	}
	defer migrator.Close()
	return fn(migrator)
}

func printVersion(cmd *cobra.Command, m *postgres.Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if dirty {
		color.New(color.FgRed).Fprintf(out, "Schema version %d (dirty)\n", version)
		return fmt.Errorf("schema version %d is dirty", version)
	}
	color.New(color.FgGreen).Fprintf(out, "Schema version %d\n", version)
	return nil
}
