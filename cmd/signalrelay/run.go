package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalrelay/internal/channel"
	"signalrelay/internal/config"
	"signalrelay/internal/metrics"
	"signalrelay/internal/normalize"
	"signalrelay/internal/relay"

	"github.com/spf13/cobra"
)

const (
	startupNotice  = "Relay started, checking permissions..."
	shutdownNotice = "Relay stopped by operator."
	pruneInterval  = time.Hour
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start relaying posts from the source channel",
		Long: `Validates the bot token, checks that the bot can post into the destination
chat and see the source channel, then relays posts until interrupted. The
pipeline is restarted after connection faults. Press Ctrl+C to stop.`,
		RunE: runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.RequireCredentials(cfg); err != nil {
		return err
	}
	closeLog, err := configureLogger(cfg.General)
	defer closeLog()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	norm, err := buildNormalizer(cfg.Normalize)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("relay store: %w", err)
	}
	defer store.Close()

	tg, err := channel.NewTelegram(telegramConfig(cfg))
	if err != nil {
		return err
	}
	dest := int64(cfg.Telegram.DestinationChatID)
	if err := preflight(ctx, tg, cfg); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Collector.Serve(ctx, cfg.Metrics.Listen, cfg.Metrics.Endpoint, logger); err != nil {
				logger.Error("metrics endpoint failed", "err", err)
			}
		}()
	}

	deliverer := relay.NewDeliverer(tg, relay.RetryPolicy{
		MaxAttempts:        cfg.Delivery.MaxAttempts,
		RetryDelay:         time.Duration(cfg.Delivery.RetryDelaySeconds) * time.Second,
		RateLimitPadding:   time.Duration(cfg.Delivery.RateLimitPaddingSeconds) * time.Second,
		MaxRateLimitWaits:  cfg.Delivery.MaxRateLimitWaits,
		NotifyOnExhaustion: cfg.Delivery.NotifyOnFailure,
		MessagesPerMinute:  float64(cfg.Delivery.MessagesPerMinute),
		ThrottleBurst:      cfg.Delivery.ThrottleBurst,
	}, logger)
	controller := relay.NewController(relay.ControllerConfig{
		Normalizer: norm,
		Store:      store,
		Deliverer:  deliverer,
		ChatID:     dest,
		Workers:    cfg.General.MaxConcurrentEvents,
		Logger:     logger,
	})
	pipeline := relay.NewPipeline(tg, controller, cfg.General.BusBuffer, logger)
	supervisor := relay.NewSupervisor(relay.SupervisorConfig{
		MaxRestarts:  cfg.Supervisor.MaxRestarts,
		RestartDelay: time.Duration(cfg.Supervisor.RestartDelaySeconds) * time.Second,
		Notify: func(ctx context.Context, text string) {
			tg.Notify(context.WithoutCancel(ctx), dest, text)
		},
		Logger: logger,
	})

	logger.Info("relay started. Press Ctrl+C to stop.",
		"source", int64(cfg.Telegram.SourceChatID),
		"destination", dest,
		"mode", norm.Mode(),
		"store", cfg.Store.Backend,
	)

	err = supervisor.Run(ctx, pipeline.RunOnce)
	if ctx.Err() != nil {
		logger.Info("relay stopped by operator")
		notifyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tg.Notify(notifyCtx, dest, shutdownNotice)
	}
	return err
}

func telegramConfig(cfg *config.Config) channel.TelegramConfig {
	return channel.TelegramConfig{
		Token:           cfg.Telegram.Token,
		SourceChatID:    int64(cfg.Telegram.SourceChatID),
		PollTimeout:     cfg.Telegram.PollTimeout,
		MaxPollFailures: cfg.Telegram.MaxPollFailures,
		APIEndpoint:     cfg.Telegram.APIEndpoint,
		Logger:          logger,
	}
}

func buildNormalizer(cfg config.NormalizeConfig) (normalize.Normalizer, error) {
	rules, err := normalize.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	return normalize.New(normalize.Mode(cfg.Mode), rules, logger)
}

// openStore returns the configured relay store. The SQLite store is pruned
// once at startup and then hourly while ctx is alive.
func openStore(ctx context.Context, cfg config.StoreConfig) (relay.Store, error) {
	if cfg.Backend != "sqlite" {
		return relay.NewMemoryStore(), nil
	}
	store, err := relay.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("relay records persisted", "db", cfg.DBPath, "retention_days", cfg.RetentionDays)
	if cfg.RetentionDays <= 0 {
		return store, nil
	}

	maxAge := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	prune := func() {
		if _, err := store.Prune(ctx, maxAge); err != nil {
			logger.Warn("prune relay records", "err", err)
		}
	}
	prune()
	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prune()
			}
		}
	}()
	return store, nil
}

// preflight checks that the bot can post into the destination and see the
// source before any post is consumed.
func preflight(ctx context.Context, tg *channel.Telegram, cfg *config.Config) error {
	dest := int64(cfg.Telegram.DestinationChatID)
	source := int64(cfg.Telegram.SourceChatID)

	if cfg.Telegram.StartupNotice {
		if _, err := tg.SendMessage(ctx, dest, startupNotice); err != nil {
			return fmt.Errorf("bot cannot post into destination chat %d: %w", dest, err)
		}
		logger.Info("permission check message sent", "chat_id", dest)
	} else {
		title, err := tg.ChatTitle(ctx, dest)
		if err != nil {
			return fmt.Errorf("bot cannot see destination chat %d: %w", dest, err)
		}
		logger.Info("destination chat found", "chat_id", dest, "title", title)
	}

	title, err := tg.ChatTitle(ctx, source)
	if err != nil {
		return fmt.Errorf("bot cannot access source channel %d: %w", source, err)
	}
	logger.Info("source channel found", "chat_id", source, "title", title)
	return nil
}
