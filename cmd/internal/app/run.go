package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the serve entrypoint used by cmd/tearoom. It returns an error
// instead of calling os.Exit so defers run.
func Run(ctx context.Context) error {
	s, err := LoadSettings()
	if err != nil {
		return err
	}
	log := NewLogger(s.App.LogLevel, s.App.LogFormat, nil)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, s, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}
