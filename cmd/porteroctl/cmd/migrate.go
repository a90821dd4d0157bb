package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"portero.org/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations and run the static policy seed",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		applied, err := a.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		}
		for _, name := range applied {
			fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
		}
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		m, err := a.Migrator()
		if err != nil {
			return err
		}
		name, err := m.Down(cmd.Context())
		if errors.Is(err, migrate.ErrNothingApplied) {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rolled back", name)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		m, err := a.Migrator()
		if err != nil {
			return err
		}
		history, err := m.Status(cmd.Context())
		if err != nil {
			return err
		}
		for _, item := range history {
			fmt.Fprintln(cmd.OutOrStdout(), item)
		}
		return nil
	},
}

var migrateSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Run data seeds that have not run yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		m, err := a.Migrator()
		if err != nil {
			return err
		}
		ran, err := m.Seed(cmd.Context(), a.Seeders()...)
		if err != nil {
			return err
		}
		for _, name := range ran {
			fmt.Fprintln(cmd.OutOrStdout(), "seeded", name)
		}
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd, migrateSeedCmd)
}
