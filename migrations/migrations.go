// Package migrations embeds the tearoom Postgres schema and applies it with goose.
//
// Tables are created unqualified; Open pins search_path to the target schema
// so the same files serve production and per-test schemas.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var EmbedMigrations embed.FS

var schemaRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Open returns a database/sql handle whose sessions use schema, creating it if needed.
func Open(ctx context.Context, dsn, schema string) (*sql.DB, error) {
	if !schemaRe.MatchString(schema) {
		return nil, fmt.Errorf("migrations: invalid schema %q", schema)
	}

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("migrations: parse dsn: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["search_path"] = schema

	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: create schema: %w", err)
	}
	return db, nil
}

// NewProvider builds a goose provider over the embedded files.
func NewProvider(db *sql.DB, log *slog.Logger) (*goose.Provider, error) {
	var opts []goose.ProviderOption
	if log != nil {
		opts = append(opts, goose.WithSlog(log))
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, EmbedMigrations, opts...)
	if err != nil {
		return nil, fmt.Errorf("migrations: provider: %w", err)
	}
	return p, nil
}

// Up applies every pending migration into schema.
func Up(ctx context.Context, dsn, schema string, log *slog.Logger) error {
	db, err := Open(ctx, dsn, schema)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	p, err := NewProvider(db, log)
	if err != nil {
		return err
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}
