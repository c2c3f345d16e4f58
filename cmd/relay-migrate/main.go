// Package main manages the call_signals schema.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/cardkeep/signal_layer/internal/cli"
	"github.com/cardkeep/signal_layer/internal/platform/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dsn string
	out := cli.NewPrinter(os.Stdout)

	// withMigrator opens the database for one command and closes it after.
	withMigrator := func(fn func(*migrations.Migrator, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return fmt.Errorf("--dsn or DATABASE_URL is required")
			}
			db, err := sql.Open("postgres", dsn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if err := db.PingContext(cmd.Context()); err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			m, err := migrations.NewMigrator(db)
			if err != nil {
				return err
			}
			return fn(m, args)
		}
	}

	root := &cobra.Command{
		Use:          "relay-migrate",
		Short:        "Apply or roll back the signal store schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("DATABASE_URL"), "postgres connection string")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(m *migrations.Migrator, _ []string) error {
			if err := m.Up(); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			return printVersion(out, m)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withMigrator(func(m *migrations.Migrator, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			if err := m.Down(steps); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			return printVersion(out, m)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(m *migrations.Migrator, _ []string) error {
			return printVersion(out, m)
		}),
	})

	return root
}

func printVersion(out *cli.Printer, m *migrations.Migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case dirty:
		out.Warning("schema version %d is dirty; fix it by hand and force the version", v)
	case v == 0:
		out.Info("no migrations applied")
	default:
		out.Success("schema at version %d", v)
	}
	return nil
}
