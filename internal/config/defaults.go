package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:            "info",
			MaxConcurrentEvents: 4,
			BusBuffer:           100,
		},
		Telegram: TelegramConfig{
			PollTimeout:     30,
			MaxPollFailures: 5,
			StartupNotice:   true,
		},
		Normalize: NormalizeConfig{
			Mode: "generic",
		},
		Delivery: DeliveryConfig{
			MaxAttempts:             3,
			RetryDelaySeconds:       1,
			RateLimitPaddingSeconds: 5,
			MaxRateLimitWaits:       10,
			NotifyOnFailure:         true,
			MessagesPerMinute:       20,
			ThrottleBurst:           5,
		},
		Supervisor: SupervisorConfig{
			MaxRestarts:         5,
			RestartDelaySeconds: 10,
		},
		Store: StoreConfig{
			Backend:       "memory",
			DBPath:        "~/.signalrelay/relay.db",
			RetentionDays: 7,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Listen:   "127.0.0.1:9464",
			Endpoint: "/metrics",
		},
	}
}
