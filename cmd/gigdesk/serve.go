package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.io/infrasutra/gigdesk/internal/api"
	"github.io/infrasutra/gigdesk/internal/auth"
	"github.io/infrasutra/gigdesk/internal/outbound"
	"github.io/infrasutra/gigdesk/internal/relay"
	"github.io/infrasutra/gigdesk/internal/sse"
	"github.io/infrasutra/gigdesk/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the optional SMTP relay and the sync scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	authManager, err := auth.New(cfg.AuthSecret, 30*24*time.Hour)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	if cfg.AuthSecret == "" {
		logger.Warn("AUTH_SECRET not set; sessions reset on restart")
	}
	if cfg.CronSecret == "" {
		logger.Warn("CRON_SECRET not set; scheduled sync trigger rejects every call")
	}

	hub := sse.NewHub()
	orchestrator, writer, err := newOrchestrator(hub)
	if err != nil {
		return err
	}
	exporter, err := newExporter()
	if err != nil {
		return err
	}
	mailer := outbound.NewMailer(outbound.OptionsFromConfig(&cfg, logger))
	if !mailer.Configured() {
		logger.Warn("SMTP_HOST or SMTP_FROM not set; thread replies are disabled")
	}

	apiServer := api.NewServer(api.Deps{
		Config:   &cfg,
		Store:    db,
		Auth:     authManager,
		Sync:     orchestrator,
		Calendar: exporter,
		Mailer:   mailer,
		Writer:   writer,
		Hub:      hub,
		Logger:   logger,
	})

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var relaySrv *relay.Server
	if cfg.RelayEnabled {
		if cfg.RelayAuthEnabled && cfg.RelayPassword == "" {
			return errors.New("RELAY_PASSWORD is required when relay auth is enabled")
		}
		if !cfg.RelayAuthEnabled {
			logger.Warn("relay auth disabled; server accepts unauthenticated connections")
		}
		relaySrv = relay.New(db, hub, logger, relay.Options{
			Addr:         fmt.Sprintf(":%d", cfg.RelayPort),
			Addresses:    cfg.RelayAddresses(),
			AuthEnabled:  cfg.RelayAuthEnabled,
			AuthUsername: cfg.RelayUsername,
			AuthPassword: cfg.RelayPassword,
		})
		go func() {
			logger.Info("smtp relay listening", "port", cfg.RelayPort)
			if err := relaySrv.ListenAndServe(); err != nil {
				logger.Error("smtp relay stopped", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SyncInterval > 0 {
		scheduler := syncer.NewScheduler(orchestrator, cfg.SyncInterval, logger)
		go scheduler.Run(ctx)
		logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	}

	go func() {
		logger.Info("http server listening", "addr", httpAddr, "inboxes", len(cfg.Inboxes))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
	if relaySrv != nil {
		if err := relaySrv.Close(); err != nil {
			logger.Error("shutdown smtp relay", "error", err)
		}
	}
	return nil
}
