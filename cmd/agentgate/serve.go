package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agentgate/internal/channel"
	"agentgate/internal/config"
	"agentgate/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (HTTP API and Telegram bridge)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway()
		},
	}
}

func runGateway() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfgPath := resolveConfigPath()

	if !cfg.HTTP.Enabled && !cfg.Channels.Telegram.Enabled {
		return fmt.Errorf("no channel enabled: set http.enabled or channels.telegram.enabled")
	}
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	rt, err := newRuntime(cfg, cfgPath, runtimeOptions{
		withActions:     true,
		withTelegramBot: cfg.Channels.Telegram.Enabled,
	})
	if err != nil {
		return err
	}
	verifyIntegrity(cfg, cfgPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SIGHUP reloads the policy file without restarting.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := rt.store.Reload(); err == nil {
					metrics.PolicyReloads.Inc()
				}
			}
		}
	}()

	var wg sync.WaitGroup

	if cfg.HTTP.Enabled {
		metricsPath := ""
		if cfg.Metrics.Enabled {
			metricsPath = cfg.Metrics.Endpoint
		}
		api := channel.NewAPI(rt.dispatcher, channel.APIConfig{
			Addr:          cfg.HTTP.Addr(),
			APIKey:        cfg.HTTP.APIKey,
			WebhookSecret: cfg.HTTP.WebhookSecret,
			Limiter:       httpRateLimiter(cfg.HTTP),
			MetricsPath:   metricsPath,
			Reloader:      rt.store,
			Grace:         time.Duration(cfg.Security.GraceSeconds) * time.Second,
			Logger:        logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := api.Start(ctx); err != nil {
				logger.Error("http channel error", "err", err)
				stop()
			}
		}()
	} else {
		logger.Info("http channel disabled")
	}

	if cfg.Channels.Telegram.Enabled {
		tg := channel.NewTelegram(rt.dispatcher, channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			Bot:       rt.tgBot,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Logger:    logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tg.Start(ctx); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	logger.Info("gateway started. Press Ctrl+C to stop.",
		"mode", rt.dispatcher.Mode(),
		"actions", len(rt.store.Snapshot().Entries()),
		"version", version)

	<-ctx.Done()
	logger.Info("shutting down gateway...")

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	var shutdownErr error
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("channels did not stop in time, forcing exit")
		shutdownErr = fmt.Errorf("shutdown timed out")
	}

	if err := rt.close(shutdownTimeout); err != nil {
		logger.Warn("audit writer close", "err", err)
	} else {
		logger.Info("shutdown complete", "audit_written", rt.writer.Written(), "audit_dropped", rt.writer.Dropped())
	}
	return shutdownErr
}

// httpRateLimiter returns nil when per-actor limiting is disabled.
func httpRateLimiter(cfg config.HTTPConfig) *channel.RateLimiter {
	if cfg.RateLimitPerMinute <= 0 {
		return nil
	}
	return channel.NewRateLimiter(cfg.RateLimitBurst, float64(cfg.RateLimitPerMinute))
}
