// Package cmd implements the luigid subcommands.
package cmd

import (
	"context"
	stdtls "crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/luigi-home/luigid/internal/api"
	"github.com/luigi-home/luigid/internal/audit"
	"github.com/luigi-home/luigid/internal/auth"
	"github.com/luigi-home/luigid/internal/clock"
	"github.com/luigi-home/luigid/internal/command"
	"github.com/luigi-home/luigid/internal/config"
	"github.com/luigi-home/luigid/internal/health"
	"github.com/luigi-home/luigid/internal/logging"
	"github.com/luigi-home/luigid/internal/metrics"
	"github.com/luigi-home/luigid/internal/modules"
	"github.com/luigi-home/luigid/internal/ratelimit"
	"github.com/luigi-home/luigid/internal/registry"
	"github.com/luigi-home/luigid/internal/system"
	"github.com/luigi-home/luigid/internal/tls"
)

// RunStart runs the daemon in the foreground until SIGINT or SIGTERM.
func RunStart(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	logging.SetDefault(logger)
	logger.Info("starting luigid", "listen", cfg.Listen)

	authn, err := auth.Load(cfg.Secrets)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	m := metrics.Get()

	reg, err := registry.Load(cfg.Registry, logger)
	if err != nil {
		return fmt.Errorf("load module registry: %w", err)
	}
	defer reg.Close()
	reg.OnReload(func(err error) {
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.RegistryReloads.WithLabelValues(status).Inc()
	})
	if err := reg.Watch(); err != nil {
		logger.Warn("registry watch unavailable, edits need a restart", "error", err)
	}
	logger.Info("module registry loaded", "path", cfg.Registry, "modules", reg.Count())

	// The query index is an optimization over the JSONL trail; losing
	// it degrades the query API, not auditing itself.
	store, err := audit.NewStore(cfg.Audit.DBPath, cfg.Audit.RetentionDays)
	if err != nil {
		logger.Warn("audit query index unavailable", "path", cfg.Audit.DBPath, "error", err)
		store = nil
	} else {
		defer store.Close()
	}

	auditor, err := audit.NewLogger(audit.Config{
		Path:     cfg.Audit.LogPath,
		MaxBytes: cfg.Audit.MaxBytes,
		Backups:  cfg.Audit.Backups,
	}, store, &clock.RealClock{})
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditor.Close()
	auditor.OnEvent(func(eventType string) {
		m.AuditEvents.WithLabelValues(eventType).Inc()
	})

	stop := make(chan struct{})
	defer close(stop)

	limiter := ratelimit.New(map[ratelimit.Tier]ratelimit.TierConfig{
		ratelimit.TierGlobal:    {Limit: cfg.Limits.GlobalLimit, Window: cfg.Limits.GlobalWindow.Std()},
		ratelimit.TierAuth:      {Limit: cfg.Limits.AuthLimit, Window: cfg.Limits.AuthWindow.Std()},
		ratelimit.TierSensitive: {Limit: cfg.Limits.SensitiveLimit, Window: cfg.Limits.SensitiveWindow.Std()},
	}, &clock.RealClock{})
	limiter.StartCleanup(5*time.Minute, time.Hour, stop)

	runner := command.New(nil)
	mods := modules.New(reg, runner, auditor, logger, nil,
		modules.WithTimeout(cfg.Command.Timeout.Std()))
	sys := system.New(runner, auditor, logger,
		system.NewMetricsReader("/", system.WithRunner(runner)))

	collector := metrics.NewCollector(m, sys, mods, logger, 30*time.Second)
	collector.Start()
	defer collector.Stop()

	if store != nil {
		go pruneLoop(store, logger, stop)
	}

	var cert *stdtls.Certificate
	if cfg.TLS.Enabled() {
		c, err := tls.LoadCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("load tls certificate: %w", err)
		}
		cert = c
	}

	server := api.NewServer(api.ServerOptions{
		Config:     cfg,
		Logger:     logger,
		Auth:       authn,
		Limiter:    limiter,
		Auditor:    auditor,
		AuditStore: store,
		Modules:    mods,
		System:     sys,
		Registry:   reg,
		Checker:    health.NewChecker(cfg.Registry, filepath.Dir(cfg.Audit.LogPath)),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = server.ListenAndServe(ctx, cert)
	logger.Info("luigid stopped")
	return err
}

// pruneLoop drops audit index rows past the retention horizon once a
// day. The JSONL trail is rotation-bounded and not touched here.
func pruneLoop(store *audit.Store, logger *logging.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n, err := store.Prune(); err != nil {
				logger.Warn("audit index prune failed", "error", err)
			} else if n > 0 {
				logger.Info("audit index pruned", "events", n)
			}
		case <-stop:
			return
		}
	}
}

func newLogger(cfg config.LogConfig) *logging.Logger {
	level := logging.LevelInfo
	switch cfg.Level {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	return logging.New(logging.Config{Level: level, JSON: cfg.JSON})
}
