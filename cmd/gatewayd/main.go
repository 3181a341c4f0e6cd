// Command gatewayd runs the public-facing tunnel gateway: the control API,
// the duplex channel tunnel owners attach to, and the ingress proxy that
// forwards public HTTP traffic through an active tunnel.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tunnelforge/tunnelforge/internal/config"
	"github.com/tunnelforge/tunnelforge/internal/db"
	"github.com/tunnelforge/tunnelforge/internal/logging"
	"github.com/tunnelforge/tunnelforge/internal/registry"
	"github.com/tunnelforge/tunnelforge/internal/relay"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(logging.Config{
		Level:    cfg.LogLevel,
		File:     cfg.LogFile,
		Timezone: cfg.LogTimezone,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var audit *db.AuditLog
	if cfg.AuditEnabled() {
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warn("audit database unavailable, continuing without it: %v", err)
		} else {
			if err := database.Migrate(ctx); err != nil {
				log.Warn("audit schema migration failed: %v", err)
			}
			defer database.Close()
			audit = db.NewAuditLog(database, log)
			defer audit.Close(5 * time.Second)
		}
	}

	reg := registry.New(cfg.MaxTunnels)

	sweeper := registry.NewSweeper(reg, cfg.SweeperInterval, cfg.MaxIdleDuration, func(id string) {
		log.Info("sweeper evicted idle tunnel %s", id)
		if audit != nil {
			audit.RecordEvent(id, "expired")
		}
	})
	go sweeper.Run(ctx)

	baseURL := func(tunnelID string) string {
		return fmt.Sprintf("https://%s/%s", cfg.BaseDomain, tunnelID)
	}

	relayCfg := relay.DefaultConfig()
	relayCfg.OwnerAPIKey = cfg.OwnerAPIKey
	relayCfg.AdminAPIKey = cfg.AdminAPIKey
	relayCfg.RequestTimeout = cfg.RequestTimeout
	relayCfg.HeartbeatInterval = cfg.HeartbeatInterval
	relayCfg.BaseURL = baseURL

	var usageRecorder relay.UsageRecorder
	var auditRecorder relay.AuditRecorder
	if audit != nil {
		usageRecorder = audit
		auditRecorder = audit
	}

	server := relay.NewServer(reg, relayCfg, log, usageRecorder, auditRecorder)

	tlsMgr := relay.NewTLSManager(cfg.BaseDomain, cfg.CertCacheDir)

	httpAddr := fmt.Sprintf("%s:80", cfg.BindHost)
	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: tlsMgr.HTTPHandler(server),
	}

	httpsAddr := fmt.Sprintf("%s:%d", cfg.BindHost, cfg.APIPort)
	httpsServer := &http.Server{
		Addr:    httpsAddr,
		Handler: server,
		TLSConfig: &tls.Config{
			GetCertificate: tlsMgr.GetCertificate,
			NextProtos:     []string{"h2", "http/1.1"},
		},
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("ACME challenge server listening on %s", httpAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info("gateway listening on %s", httpsAddr)
		if err := httpsServer.ListenAndServeTLS("", ""); err != http.ErrServerClosed {
			errCh <- fmt.Errorf("https: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error: %v", err)
	}
	if err := httpsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("https shutdown error: %v", err)
	}

	return nil
}
