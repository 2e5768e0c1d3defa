package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for signalrelay.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Telegram   TelegramConfig   `json:"telegram"`
	Normalize  NormalizeConfig  `json:"normalize"`
	Delivery   DeliveryConfig   `json:"delivery"`
	Supervisor SupervisorConfig `json:"supervisor"`
	Store      StoreConfig      `json:"store"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel            string `json:"logLevel"`
	LogFile             string `json:"logFile"` // optional, mirrors stderr
	MaxConcurrentEvents int    `json:"maxConcurrentEvents"`
	BusBuffer           int    `json:"busBuffer"`
}

type TelegramConfig struct {
	Token             string    `json:"token"`
	SourceChatID      FlexInt64 `json:"sourceChatId"`
	DestinationChatID FlexInt64 `json:"destinationChatId"`
	PollTimeout       int       `json:"pollTimeout"`     // long-poll seconds
	MaxPollFailures   int       `json:"maxPollFailures"` // consecutive failures before a restart
	APIEndpoint       string    `json:"apiEndpoint"`
	StartupNotice     bool      `json:"startupNotice"`
}

// FlexInt64 is an int64 that unmarshals from a JSON number or string, so
// chat ids like "-1001234567890" and -1001234567890 are both accepted.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexInt64(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("chat id must be a number or string: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", s, err)
	}
	*f = FlexInt64(n)
	return nil
}

type NormalizeConfig struct {
	Mode      string `json:"mode"` // "generic" | "structured"
	RulesFile string `json:"rulesFile"`
}

type DeliveryConfig struct {
	MaxAttempts             int  `json:"maxAttempts"`
	RetryDelaySeconds       int  `json:"retryDelaySeconds"`
	RateLimitPaddingSeconds int  `json:"rateLimitPaddingSeconds"`
	MaxRateLimitWaits       int  `json:"maxRateLimitWaits"` // 0 = unbounded
	NotifyOnFailure         bool `json:"notifyOnFailure"`
	MessagesPerMinute       int  `json:"messagesPerMinute"` // 0 = no pacing
	ThrottleBurst           int  `json:"throttleBurst"`
}

type SupervisorConfig struct {
	MaxRestarts         int `json:"maxRestarts"`
	RestartDelaySeconds int `json:"restartDelaySeconds"`
}

type StoreConfig struct {
	Backend       string `json:"backend"` // "memory" | "sqlite"
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"` // 0 = keep forever
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Listen   string `json:"listen"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.signalrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".signalrelay"
	}
	return filepath.Join(home, ".signalrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Normalize.RulesFile = ExpandPath(cfg.Normalize.RulesFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ApplyEnv fills empty Telegram settings from BOT_TOKEN, SOURCE_CHAT_ID and
// DESTINATION_CHAT_ID.
func ApplyEnv(cfg *Config) error {
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = os.Getenv("BOT_TOKEN")
	}
	for _, v := range []struct {
		name string
		dst  *FlexInt64
	}{
		{"SOURCE_CHAT_ID", &cfg.Telegram.SourceChatID},
		{"DESTINATION_CHAT_ID", &cfg.Telegram.DestinationChatID},
	} {
		if *v.dst != 0 {
			continue
		}
		raw := strings.TrimSpace(os.Getenv(v.name))
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chat id %q: %w", v.name, raw, err)
		}
		*v.dst = FlexInt64(n)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file holds the bot token.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentEvents < 1 || cfg.General.MaxConcurrentEvents > 100 {
		errs = append(errs, "general.maxConcurrentEvents must be between 1 and 100")
	}
	if cfg.General.BusBuffer < 1 {
		errs = append(errs, "general.busBuffer must be >= 1")
	}

	if cfg.Telegram.PollTimeout < 1 || cfg.Telegram.PollTimeout > 60 {
		errs = append(errs, "telegram.pollTimeout must be between 1 and 60")
	}
	if cfg.Telegram.MaxPollFailures < 1 {
		errs = append(errs, "telegram.maxPollFailures must be >= 1")
	}
	if cfg.Telegram.SourceChatID != 0 && cfg.Telegram.SourceChatID == cfg.Telegram.DestinationChatID {
		errs = append(errs, "telegram.sourceChatId and telegram.destinationChatId must differ")
	}

	switch cfg.Normalize.Mode {
	case "generic", "structured":
	default:
		errs = append(errs, "normalize.mode must be one of: generic, structured")
	}

	if cfg.Delivery.MaxAttempts < 1 || cfg.Delivery.MaxAttempts > 20 {
		errs = append(errs, "delivery.maxAttempts must be between 1 and 20")
	}
	if cfg.Delivery.RetryDelaySeconds < 0 {
		errs = append(errs, "delivery.retryDelaySeconds must be >= 0")
	}
	if cfg.Delivery.RateLimitPaddingSeconds < 0 {
		errs = append(errs, "delivery.rateLimitPaddingSeconds must be >= 0")
	}
	if cfg.Delivery.MaxRateLimitWaits < 0 {
		errs = append(errs, "delivery.maxRateLimitWaits must be >= 0")
	}
	if cfg.Delivery.MessagesPerMinute < 0 {
		errs = append(errs, "delivery.messagesPerMinute must be >= 0")
	}
	if cfg.Delivery.MessagesPerMinute > 0 && cfg.Delivery.ThrottleBurst < 1 {
		errs = append(errs, "delivery.throttleBurst must be >= 1 when pacing is enabled")
	}

	if cfg.Supervisor.MaxRestarts < 1 {
		errs = append(errs, "supervisor.maxRestarts must be >= 1")
	}
	if cfg.Supervisor.RestartDelaySeconds < 1 {
		errs = append(errs, "supervisor.restartDelaySeconds must be >= 1")
	}

	switch cfg.Store.Backend {
	case "memory":
	case "sqlite":
		if cfg.Store.DBPath == "" {
			errs = append(errs, "store.dbPath is required for the sqlite backend")
		}
	default:
		errs = append(errs, "store.backend must be one of: memory, sqlite")
	}
	if cfg.Store.RetentionDays < 0 {
		errs = append(errs, "store.retentionDays must be >= 0")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			errs = append(errs, "metrics.listen is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireCredentials reports what is missing before the relay can start.
// It is separate from Validate so that config commands work on a fresh file.
func RequireCredentials(cfg *Config) error {
	var missing []string
	if cfg.Telegram.Token == "" {
		missing = append(missing, "telegram.token (or BOT_TOKEN)")
	}
	if cfg.Telegram.SourceChatID == 0 {
		missing = append(missing, "telegram.sourceChatId (or SOURCE_CHAT_ID)")
	}
	if cfg.Telegram.DestinationChatID == 0 {
		missing = append(missing, "telegram.destinationChatId (or DESTINATION_CHAT_ID)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
