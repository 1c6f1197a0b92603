package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"agentgate/internal/action"
	"agentgate/internal/audit"
	"agentgate/internal/browser"
	"agentgate/internal/config"
	"agentgate/internal/domain"
	"agentgate/internal/gateway"
	"agentgate/internal/metrics"
	"agentgate/internal/security"
)

// runtime bundles everything a command needs to evaluate or execute
// requests. Commands that only evaluate skip the audit writer and actions.
type runtime struct {
	cfg        *config.Config
	cfgPath    string
	store      *security.Store
	registry   *action.Registry
	writer     *audit.Writer
	dispatcher *gateway.Dispatcher
	tgBot      *tgbotapi.BotAPI
}

type runtimeOptions struct {
	// withActions registers capabilities and opens the audit sinks.
	withActions bool
	// withTelegramBot connects the bot up front so the channel and the
	// telegram_send action share one session.
	withTelegramBot bool
}

// policyLoader builds a fresh snapshot from the policy file on every call.
// The gateway's own files are always added to the protected set.
func policyLoader(cfg *config.Config, cfgPath string) func() (*security.Snapshot, error) {
	return func() (*security.Snapshot, error) {
		pf, err := security.LoadPolicyFile(cfg.Security.PolicyFile)
		if err != nil {
			return nil, err
		}
		return security.NewSnapshot(pf, cfg.General.Workspace, cfg.ProtectedPaths(cfgPath)...)
	}
}

func newRuntime(cfg *config.Config, cfgPath string, opts runtimeOptions) (*runtime, error) {
	load := policyLoader(cfg, cfgPath)
	snap, err := load()
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	rt := &runtime{
		cfg:      cfg,
		cfgPath:  cfgPath,
		store:    security.NewStore(snap, security.StoreConfig{Loader: load, Logger: logger}),
		registry: action.NewRegistry(logger),
	}

	var recorder gateway.Recorder
	if opts.withActions {
		if opts.withTelegramBot && cfg.Channels.Telegram.Token != "" {
			bot, err := tgbotapi.NewBotAPI(cfg.Channels.Telegram.Token)
			if err != nil {
				return nil, fmt.Errorf("telegram bot init: %w", err)
			}
			rt.tgBot = bot
		}
		rt.registerActions()

		writer, err := openAuditWriter(cfg)
		if err != nil {
			return nil, err
		}
		rt.writer = writer
		recorder = writer
	}

	rt.dispatcher = gateway.NewDispatcher(gateway.Config{
		Policy:     rt.store,
		Registry:   rt.registry,
		Audit:      recorder,
		Grace:      time.Duration(cfg.Security.GraceSeconds) * time.Second,
		PreviewLen: cfg.Audit.PreviewLen,
		Logger:     logger,
	})

	if opts.withActions {
		for _, e := range snap.Entries() {
			if _, ok := rt.registry.Lookup(e.ActionName); !ok {
				logger.Warn("whitelisted action has no capability; requests will fail", "action", e.ActionName)
			}
		}
	}
	return rt, nil
}

// registerActions installs the built-in capabilities. Messaging actions are
// only available when their tokens are configured.
func (rt *runtime) registerActions() {
	cfg := rt.cfg
	shell := action.ShellConfig{
		WorkingDir:     cfg.General.Workspace,
		MaxOutputBytes: cfg.Actions.Shell.MaxOutputBytes,
		Shell:          cfg.Actions.Shell.Shell,
		Python:         cfg.Actions.Shell.Python,
	}
	rt.registry.Register(action.NewSystemInfo(cfg.Actions.SystemInfo.DiskPath))
	rt.registry.Register(action.NewShellExec(shell))
	rt.registry.Register(action.NewPythonExec(shell))
	rt.registry.Register(action.NewFileOperation(action.FileConfig{
		Workspace:           cfg.General.Workspace,
		RestrictToWorkspace: cfg.Actions.File.RestrictToWorkspace,
	}))
	rt.registry.Register(action.NewBrowserOpen(browser.NewBridge(browser.BridgeConfig{
		ProfileDir: cfg.Actions.Browser.ProfileDir,
		Headless:   cfg.Actions.Browser.Headless,
		Logger:     logger,
	})))
	rt.registry.Register(action.NewSetSafetyMode(rt.store))

	tg := cfg.Channels.Telegram
	if tg.Token != "" {
		defaultChat, _ := strconv.ParseInt(tg.DefaultChat, 10, 64)
		if rt.tgBot != nil {
			rt.registry.Register(action.NewTelegramSend(action.WrapTelegramBot(rt.tgBot), defaultChat))
		} else if client, err := action.NewTelegramClient(tg.Token); err == nil {
			rt.registry.Register(action.NewTelegramSend(client, defaultChat))
		} else {
			logger.Warn("telegram_send unavailable", "err", err)
		}
	}

	if dc := cfg.Channels.Discord; dc.Token != "" {
		client, err := action.NewDiscordClient(dc.Token)
		if err != nil {
			logger.Warn("discord_post unavailable", "err", err)
		} else {
			rt.registry.Register(action.NewDiscordPost(client, dc.DefaultChannel))
		}
	}
}

// openAuditWriter opens the configured sinks behind an async writer.
func openAuditWriter(cfg *config.Config) (*audit.Writer, error) {
	var sinks []domain.AuditSink
	if cfg.Audit.DBPath != "" {
		s, err := audit.NewSQLiteSink(cfg.Audit.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Audit.JSONLPath != "" {
		s, err := audit.NewJSONLSink(cfg.Audit.JSONLPath)
		if err != nil {
			for _, open := range sinks {
				open.Close()
			}
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		sinks = append(sinks, s)
	}
	return audit.NewWriter(audit.WriterConfig{
		Sinks:       sinks,
		Buffer:      cfg.Audit.Buffer,
		SinkTimeout: time.Duration(cfg.Audit.SinkTimeoutSeconds) * time.Second,
		Logger:      logger,
		OnDrop:      metrics.AuditDropped.Inc,
		OnError:     func(error) { metrics.AuditErrors.Inc() },
	}), nil
}

// close flushes pending audit records.
func (rt *runtime) close(timeout time.Duration) error {
	if rt.writer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := rt.writer.Close(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("audit flush timed out", "pending", rt.writer.Pending())
	}
	return err
}
