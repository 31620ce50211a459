package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vstu/timetable-tracker/internal/app"
	"github.com/vstu/timetable-tracker/internal/config"
	"github.com/vstu/timetable-tracker/internal/logger"
)

// withApp loads configuration, builds the application and hands it to fn
// with a context cancelled on SIGINT/SIGTERM.
func withApp(opts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger.Init(cfg.IsDevelopment(), cfg.SentryDSN)
	defer logger.Flush()

	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := a.Close()
		if closeErr != nil {
			fmt.Fprintln(os.Stderr, "failed to close app:", closeErr)
		}
	}()

	return fn(ctx, a)
}
