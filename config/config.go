package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	// Target event page
	EventURL string

	// Telegram notification channel
	TelegramBotToken string
	TelegramChatIDs  []string

	// Redis alert stream channel (enabled when RedisAddr is set)
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamCount     int
	RedisStreamMaxLength int

	// Memcache cooldown cache (in-process fallback when empty)
	MemcacheAddr string

	// Poll cadence: a random delay in [SleepMin, SleepMax] between cycles
	SleepMin time.Duration
	SleepMax time.Duration

	// Backoff bounds for transient failures
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BackoffFactor float64

	// Escalation bounds
	MaxConsecutiveFailures int
	SessionMaxFailures     int

	// Session supervisor crash-loop bound
	SupervisorMaxRestarts int
	SupervisorWindow      time.Duration

	// Proactive session restart cadence
	SessionRestartInterval    int
	RateLimitRestartThreshold int
	RateLimitPause            time.Duration

	// Browser configuration
	ChromeBin        string
	ChromeRemoteAddr string
	Headless         bool
	FetchTimeout     time.Duration
	SettleWait       time.Duration

	// Ledger persistence
	LedgerPath string
	LedgerTTL  time.Duration

	// Logging
	LogFile string

	// Heartbeat summary cadence
	HeartbeatInterval time.Duration

	// Test mode injects synthetic listings
	TestMode bool

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	streamCount, _ := strconv.Atoi(getEnv("REDIS_STREAM_COUNT", "1"))
	streamMaxLen, _ := strconv.Atoi(getEnv("REDIS_STREAM_MAX_LENGTH", "500"))
	sleepMin, _ := strconv.Atoi(getEnv("SLEEP_MIN_SECONDS", "30"))
	sleepMax, _ := strconv.Atoi(getEnv("SLEEP_MAX_SECONDS", "60"))
	backoffBase, _ := strconv.Atoi(getEnv("BACKOFF_BASE_SECONDS", "30"))
	backoffMax, _ := strconv.Atoi(getEnv("BACKOFF_MAX_SECONDS", "600"))
	backoffFactor, _ := strconv.ParseFloat(getEnv("BACKOFF_FACTOR", "2.0"), 64)
	maxFailures, _ := strconv.Atoi(getEnv("MAX_CONSECUTIVE_FAILURES", "5"))
	sessionMaxFailures, _ := strconv.Atoi(getEnv("SESSION_MAX_FAILURES", "3"))
	supMaxRestarts, _ := strconv.Atoi(getEnv("SUPERVISOR_MAX_RESTARTS", "3"))
	supWindow, _ := strconv.Atoi(getEnv("SUPERVISOR_WINDOW_MINUTES", "10"))
	restartInterval, _ := strconv.Atoi(getEnv("SESSION_RESTART_INTERVAL", "200"))
	rateLimitThreshold, _ := strconv.Atoi(getEnv("RATE_LIMIT_RESTART_THRESHOLD", "3"))
	rateLimitPause, _ := strconv.Atoi(getEnv("RATE_LIMIT_PAUSE_SECONDS", "300"))
	fetchTimeout, _ := strconv.Atoi(getEnv("FETCH_TIMEOUT_SECONDS", "30"))
	settleWait, _ := strconv.Atoi(getEnv("SETTLE_WAIT_SECONDS", "2"))
	ledgerTTL, _ := strconv.Atoi(getEnv("LEDGER_TTL_HOURS", "0"))
	heartbeat, _ := strconv.Atoi(getEnv("HEARTBEAT_INTERVAL_MINUTES", "60"))

	var chatIDs []string
	if raw := getEnv("TELEGRAM_CHAT_IDS", ""); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				chatIDs = append(chatIDs, id)
			}
		}
	}

	return &Config{
		EventURL:                  getEnv("EVENT_URL", ""),
		TelegramBotToken:          getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatIDs:           chatIDs,
		RedisAddr:                 getEnv("REDIS_ADDR", ""),
		RedisDB:                   redisDB,
		RedisStream:               getEnv("REDIS_STREAM", "ticketalerts"),
		RedisStreamCount:          streamCount,
		RedisStreamMaxLength:      streamMaxLen,
		MemcacheAddr:              getEnv("MEMCACHE_ADDR", ""),
		SleepMin:                  time.Duration(sleepMin) * time.Second,
		SleepMax:                  time.Duration(sleepMax) * time.Second,
		BackoffBase:               time.Duration(backoffBase) * time.Second,
		BackoffMax:                time.Duration(backoffMax) * time.Second,
		BackoffFactor:             backoffFactor,
		MaxConsecutiveFailures:    maxFailures,
		SessionMaxFailures:        sessionMaxFailures,
		SupervisorMaxRestarts:     supMaxRestarts,
		SupervisorWindow:          time.Duration(supWindow) * time.Minute,
		SessionRestartInterval:    restartInterval,
		RateLimitRestartThreshold: rateLimitThreshold,
		RateLimitPause:            time.Duration(rateLimitPause) * time.Second,
		ChromeBin:                 getEnv("CHROME_BIN", ""),
		ChromeRemoteAddr:          getEnv("CHROME_REMOTE_ADDR", ""),
		Headless:                  strings.ToLower(getEnv("HEADLESS", "true")) == "true",
		FetchTimeout:              time.Duration(fetchTimeout) * time.Second,
		SettleWait:                time.Duration(settleWait) * time.Second,
		LedgerPath:                getEnv("LEDGER_PATH", "./data/seen.jsonl"),
		LedgerTTL:                 time.Duration(ledgerTTL) * time.Hour,
		LogFile:                   getEnv("LOG_FILE", "./logs/ticketwatcher.log"),
		HeartbeatInterval:         time.Duration(heartbeat) * time.Minute,
		TestMode:                  strings.ToLower(getEnv("TEST_MODE", "false")) == "true",
		Environment:               getEnv("TICKETWATCHER_ENVIRONMENT", "development"),
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.EventURL == "" {
		return fmt.Errorf("EVENT_URL is required")
	}
	if !strings.HasPrefix(c.EventURL, "http://") && !strings.HasPrefix(c.EventURL, "https://") {
		return fmt.Errorf("EVENT_URL must be an absolute http(s) URL: %q", c.EventURL)
	}
	if c.TelegramBotToken != "" && len(c.TelegramChatIDs) == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_IDS is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.TelegramBotToken == "" && c.RedisAddr == "" {
		return fmt.Errorf("at least one notification channel is required (TELEGRAM_BOT_TOKEN or REDIS_ADDR)")
	}
	if c.SleepMin <= 0 || c.SleepMax < c.SleepMin {
		return fmt.Errorf("invalid sleep bounds: min=%s max=%s", c.SleepMin, c.SleepMax)
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("invalid backoff bounds: base=%s max=%s", c.BackoffBase, c.BackoffMax)
	}
	if c.BackoffFactor <= 1 {
		return fmt.Errorf("BACKOFF_FACTOR must be greater than 1")
	}
	if c.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("MAX_CONSECUTIVE_FAILURES must be positive")
	}
	if c.SupervisorMaxRestarts <= 0 || c.SupervisorWindow <= 0 {
		return fmt.Errorf("invalid supervisor bounds: restarts=%d window=%s", c.SupervisorMaxRestarts, c.SupervisorWindow)
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("LEDGER_PATH is required")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
