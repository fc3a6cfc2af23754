package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"tearoom/cmd/identity"
	"tearoom/cmd/internal/app"
	"tearoom/cmd/security/password"
)

var rootCmd = &cobra.Command{
	Use:          "tearoom",
	Short:        "Tearoom order service",
	Long:         `Tearoom serves room ordering with realtime kitchen updates. Configuration is read from TEAROOM_* environment variables and an optional .env file.`,
	SilenceUsage: true,
}

// openIdentity connects to TEAROOM_DATABASE_URL for the admin commands.
func openIdentity(ctx context.Context) (*identity.PostgresStore, func(), error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.DatabaseEnabled() {
		return nil, nil, fmt.Errorf("TEAROOM_DATABASE_URL is required")
	}
	pwd, err := password.FromEnv()
	if err != nil {
		return nil, nil, err
	}

	pool, err := app.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	store, err := identity.NewPostgresStore(pool, identity.NewCredentials(pwd), identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

func cliLogger() *slog.Logger {
	cfg, err := app.LoadConfig()
	if err != nil {
		cfg = app.DefaultConfig()
	}
	return app.NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
}
