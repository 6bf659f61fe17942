package main

import (
	"fmt"
	"time"

	"github.io/infrasutra/gigdesk/internal/calendar"
	"github.io/infrasutra/gigdesk/internal/config"
	"github.io/infrasutra/gigdesk/internal/lock"
	"github.io/infrasutra/gigdesk/internal/mailbox"
	"github.io/infrasutra/gigdesk/internal/sse"
	"github.io/infrasutra/gigdesk/internal/syncer"
	"github.io/infrasutra/gigdesk/internal/threading"
)

func newRegistry() *mailbox.Registry {
	registry := mailbox.NewRegistry()
	registry.Register(config.ProtocolIMAP, mailbox.NewIMAPConnector(logger))
	registry.Register(config.ProtocolGmail, mailbox.NewGmailConnector(logger))
	registry.Register(config.ProtocolRelay, mailbox.NewRelayConnector(db))
	return registry
}

// newLocker shares sync locks through Redis when REDIS_ADDR is set, so
// several gigdesk processes never sync the same inbox at once.
func newLocker() lock.Locker {
	if cfg.RedisAddr == "" {
		return lock.NewLocalLocker()
	}
	rdb := lock.NewRedisClient(lock.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	logger.Info("using redis sync lock", "addr", cfg.RedisAddr)
	return lock.NewRedisLocker(rdb, logger)
}

func newOrchestrator(hub *sse.Hub) (*syncer.Orchestrator, *syncer.Writer, error) {
	tieBreak, err := threading.ParseTieBreak(cfg.ThreadTieBreak)
	if err != nil {
		return nil, nil, fmt.Errorf("THREAD_TIE_BREAK: %w", err)
	}
	writer := syncer.NewWriter(db)
	opts := syncer.Options{
		Inboxes:    cfg.Inboxes,
		Connectors: newRegistry(),
		States:     db,
		Matcher:    threading.NewMatcher(db, tieBreak),
		Linker:     threading.NewLinker(db),
		Writer:     writer,
		Locker:     newLocker(),
		Timeout:    cfg.SyncInboxTimeout,
		Logger:     logger,
	}
	if hub != nil {
		opts.Events = hub
	}
	return syncer.New(opts), writer, nil
}

func newExporter() (*calendar.Exporter, error) {
	loc, err := time.LoadLocation(cfg.CalendarTZ)
	if err != nil {
		return nil, fmt.Errorf("CALENDAR_TZ: %w", err)
	}
	return calendar.NewExporter(db, calendar.Options{
		Domain:          cfg.CalendarDomain,
		Location:        loc,
		DefaultDuration: cfg.CalendarDefaultDuration,
		Logger:          logger,
	}), nil
}
