package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/causelift/campaign-engine/api"
	"github.com/causelift/campaign-engine/cron"
	"github.com/causelift/campaign-engine/db"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and background loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.close()
			return runServe(cmd.Context(), app)
		},
	}
}

func runServe(ctx context.Context, app *app) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(app.log, app.cfg.AdminServerPort, app.database,
		app.aggregator, app.repairer, app.engine, app.governance, app.cfg.AuthTokens)
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		if err := server.Stop(); err != nil {
			app.log.Error().Err(err).Msg("admin server shutdown failed")
		}
	}()

	recovery := cron.NewRecoveryJob(app.engine,
		time.Duration(app.cfg.RecoveryIntervalSeconds)*time.Second, app.log)
	if err := recovery.Start(ctx); err != nil {
		return err
	}
	defer recovery.Stop()

	expiry := cron.NewExpiryJob(app.governance,
		time.Duration(app.cfg.ExpirySweepIntervalSeconds)*time.Second, app.log)
	if err := expiry.Start(ctx); err != nil {
		return err
	}
	defer expiry.Stop()

	// Audit rows older than a year are noise; rate limiting only reads the
	// last hour.
	cleaner := db.NewAuditLogCleaner(app.database, 24*time.Hour, 365*24*time.Hour, app.log)
	if err := cleaner.Start(ctx); err != nil {
		return err
	}
	defer cleaner.Stop()

	app.log.Info().
		Int("port", app.cfg.AdminServerPort).
		Int("contracts", len(app.cfg.Contracts)).
		Msg("campaign engine running")

	<-ctx.Done()
	app.log.Info().Msg("shutting down")
	return nil
}
