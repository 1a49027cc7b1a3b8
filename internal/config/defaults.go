package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			ChatPath:        "/ws/chat",
			QueueDepth:      32,
			MaxMessageBytes: 64 * 1024,
		},
		Translator: TranslatorConfig{
			APIBase:               "https://api-inference.huggingface.co",
			RequestTimeoutSeconds: 30,
			LoadTimeoutSeconds:    120,
			Pairs:                 DefaultPairs(),
		},
		Generator: GeneratorConfig{
			APIBase:               "https://api.openai.com/v1",
			Model:                 "gpt-4o-mini",
			SystemPrompt:          "You are a helpful multilingual assistant.",
			Temperature:           0.2,
			RequestTimeoutSeconds: 60,
		},
		Memory: MemoryConfig{
			Enabled: true,
			DBPath:  "~/.babelbot/memory.db",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled: false,
			},
			Discord: DiscordConfig{
				Enabled: false,
			},
			Slack: SlackConfig{
				Enabled: false,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// DefaultPairs returns the built-in Helsinki-NLP routes. English pivots to
// Hindi and Japanese in both directions; more routes come from config or a
// pairs file.
func DefaultPairs() map[string]string {
	return map[string]string{
		"en->hi": "Helsinki-NLP/opus-mt-en-hi",
		"hi->en": "Helsinki-NLP/opus-mt-hi-en",
		"en->ja": "Helsinki-NLP/opus-mt-en-jap",
		"ja->en": "Helsinki-NLP/opus-mt-ja-en",
	}
}
