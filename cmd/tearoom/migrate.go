package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"tearoom/cmd/internal/app"
	"tearoom/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down [version]|status]",
	Short: "Run database migrations",
	Long:  `Apply, roll back or inspect the embedded schema migrations against TEAROOM_DATABASE_URL (or --dsn).`,
	Args:  migrateArgs,
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().String("dsn", "", "PostgreSQL DSN (defaults to TEAROOM_DATABASE_URL)")
	migrateCmd.Flags().String("schema", "", "target schema (defaults to TEAROOM_DB_SCHEMA)")
	migrateCmd.Flags().StringP("format", "f", "text", "output format (text or json)")

	rootCmd.AddCommand(migrateCmd)
}

func migrateArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.RangeArgs(0, 2)(cmd, args); err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	switch args[0] {
	case "up", "down", "status":
	default:
		return fmt.Errorf("invalid command: %q", args[0])
	}
	if len(args) == 2 {
		if args[0] != "down" {
			return fmt.Errorf("invalid argument combination: %q", args)
		}
		if v, err := strconv.ParseInt(args[1], 10, 64); err != nil || v < 0 {
			return fmt.Errorf("invalid version number: %q", args[1])
		}
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}
	version := int64(-1)
	if len(args) > 1 {
		version, _ = strconv.ParseInt(args[1], 10, 64)
	}

	dsn, _ := cmd.Flags().GetString("dsn")
	schema, _ := cmd.Flags().GetString("schema")
	format, _ := cmd.Flags().GetString("format")
	if dsn == "" || schema == "" {
		cfg, err := app.LoadConfig()
		if err != nil {
			return err
		}
		if dsn == "" {
			dsn = cfg.DatabaseURL
		}
		if schema == "" {
			schema = cfg.DBSchema
		}
	}
	if dsn == "" {
		return fmt.Errorf("no DSN: set --dsn or TEAROOM_DATABASE_URL")
	}

	ctx := cmd.Context()
	db, err := migrations.Open(ctx, dsn, schema)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	log := cliLogger()
	if format == "json" {
		log = nil
	}
	provider, err := migrations.NewProvider(db, log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch command {
	case "down":
		return migrateDown(ctx, provider, version, format, out)
	case "status":
		return migrateStatus(ctx, provider, format, out)
	default:
		results, err := provider.Up(ctx)
		if err != nil {
			return err
		}
		return printResults(out, format, results)
	}
}

func migrateDown(ctx context.Context, p *goose.Provider, version int64, format string, out io.Writer) error {
	var results []*goose.MigrationResult
	if version < 0 {
		r, err := p.Down(ctx)
		if err != nil {
			return err
		}
		results = append(results, r)
	} else {
		var err error
		if results, err = p.DownTo(ctx, version); err != nil {
			return err
		}
	}
	return printResults(out, format, results)
}

func printResults(out io.Writer, format string, results []*goose.MigrationResult) error {
	if results == nil {
		results = []*goose.MigrationResult{}
	}
	if format == "json" {
		return json.NewEncoder(out).Encode(map[string]any{"applied": results})
	}
	for _, r := range results {
		_, _ = fmt.Fprintln(out, r.String())
	}
	if len(results) == 0 {
		_, _ = fmt.Fprintln(out, "no migrations to apply")
	}
	return nil
}

func migrateStatus(ctx context.Context, p *goose.Provider, format string, out io.Writer) error {
	statuses, err := p.Status(ctx)
	if err != nil {
		return err
	}
	if format == "json" {
		return json.NewEncoder(out).Encode(statuses)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "APPLIED AT\tMIGRATION")
	for _, s := range statuses {
		applied := "pending"
		if s.State == goose.StateApplied {
			applied = s.AppliedAt.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", applied, s.Source.Path)
	}
	return w.Flush()
}
