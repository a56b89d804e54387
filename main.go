package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"dwatson385/ticketwatcher/config"
	"dwatson385/ticketwatcher/helpers"
	"dwatson385/ticketwatcher/internal/browser"
	"dwatson385/ticketwatcher/internal/ledger"
	"dwatson385/ticketwatcher/logger"
	"dwatson385/ticketwatcher/pkg/backoff"
	"dwatson385/ticketwatcher/services/cache"
	"dwatson385/ticketwatcher/services/monitor"
	"dwatson385/ticketwatcher/services/notifier"
)

// Exit codes: 0 graceful shutdown, 1 configuration error, 2 fatal failure
const (
	exitOK     = 0
	exitConfig = 1
	exitFatal  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load environment variables from .env file if exists
	_ = godotenv.Load()

	cfg := config.LoadConfig()
	logger.Init(cfg.LogFile)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration: %v", err)
		return exitConfig
	}

	logger.Info("Starting ticket watcher for %s", cfg.EventURL)

	// Plain HTTP preflight of the event page; browser automation may
	// still succeed where this fails, so only warn
	if _, err := helpers.FetchWithRandomHeaders(cfg.EventURL); err != nil {
		logger.Warn("Event page preflight failed (continuing): %v", err)
	}

	seen, err := ledger.OpenFile(cfg.LedgerPath, cfg.LedgerTTL)
	if err != nil {
		logger.LogError("ledger", err, "Failed to open seen-listing ledger at %s", cfg.LedgerPath)
		return exitConfig
	}
	defer seen.Close()
	logger.Info("Ledger loaded with %d seen listings", len(seen.All()))

	var cooldown cache.CacheService
	if cfg.MemcacheAddr != "" {
		cooldown = cache.NewMemcacheService(cfg.MemcacheAddr)
	} else {
		cooldown = cache.NewMemoryService()
	}

	var channels []notifier.Notifier
	if cfg.TelegramBotToken != "" {
		channels = append(channels, notifier.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatIDs))
	}
	if cfg.RedisAddr != "" {
		channels = append(channels, notifier.NewRedisNotifier(
			cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream, cfg.RedisStreamCount, cfg.RedisStreamMaxLength))
	}
	notify := notifier.NewMultiNotifier(channels...)
	defer notify.Close()

	sup := browser.NewSupervisor(func() browser.Handle {
		return browser.NewSession(browser.Options{
			ChromeBin:              cfg.ChromeBin,
			RemoteAddr:             cfg.ChromeRemoteAddr,
			Headless:               cfg.Headless,
			FetchTimeout:           cfg.FetchTimeout,
			SettleWait:             cfg.SettleWait,
			MaxConsecutiveFailures: cfg.SessionMaxFailures,
		})
	}, cfg.SupervisorMaxRestarts, cfg.SupervisorWindow)
	defer sup.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := monitor.NewMonitor(ctx, monitor.Options{
		EventURL: cfg.EventURL,
		SleepMin: cfg.SleepMin,
		SleepMax: cfg.SleepMax,
		Backoff: backoff.Policy{
			Base:   cfg.BackoffBase,
			Max:    cfg.BackoffMax,
			Factor: cfg.BackoffFactor,
			Jitter: 0.2,
		},
		MaxConsecutiveFailures:    cfg.MaxConsecutiveFailures,
		SessionRestartInterval:    cfg.SessionRestartInterval,
		RateLimitPause:            cfg.RateLimitPause,
		RateLimitRestartThreshold: cfg.RateLimitRestartThreshold,
		HeartbeatInterval:         cfg.HeartbeatInterval,
		SnapshotDir:               filepath.Dir(cfg.LogFile),
		TestMode:                  cfg.TestMode,
	}, sup, seen, notify, cooldown)

	notify.Announce(ctx, "Ticket watcher started, monitoring "+cfg.EventURL)

	done := make(chan error, 1)
	go func() {
		done <- m.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal %v, shutting down", sig)
		cancel()
		<-done
		notify.Announce(context.Background(), "Ticket watcher stopped")
		logger.Info("Shutdown complete")
		return exitOK

	case err := <-done:
		if err != nil {
			logger.Error("Ticket watcher stopped: %v", err)
			notify.Announce(context.Background(), "Ticket watcher stopped after repeated failures, manual restart required")
			return exitFatal
		}
		return exitOK
	}
}
