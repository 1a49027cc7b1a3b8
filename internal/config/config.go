package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"babelbot/internal/language"
)

// Config is the root configuration for BabelBot.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Server     ServerConfig     `json:"server"`
	Translator TranslatorConfig `json:"translator"`
	Generator  GeneratorConfig  `json:"generator"`
	Memory     MemoryConfig     `json:"memory"`
	Channels   ChannelsConfig   `json:"channels"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// ServerConfig configures the HTTP/WebSocket front end.
type ServerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	ChatPath string `json:"chatPath"` // WebSocket endpoint path
	// QueueDepth bounds the per-connection inbound message queue. Frames
	// arriving while the queue is full are answered with an error and dropped.
	QueueDepth int `json:"queueDepth"`
	// MaxMessageBytes caps a single inbound WebSocket frame.
	MaxMessageBytes int64 `json:"maxMessageBytes"`
}

// TranslatorConfig configures the hosted translation models.
type TranslatorConfig struct {
	APIBase  string `json:"apiBase"`
	APIToken string `json:"apiToken,omitempty"` // optional; anonymous calls work with rate limits
	// RequestTimeoutSeconds bounds a single translation call.
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds"`
	// LoadTimeoutSeconds bounds the first-use model warm-up.
	LoadTimeoutSeconds int `json:"loadTimeoutSeconds"`
	// Pairs maps "src->tgt" route keys to remote model IDs.
	Pairs map[string]string `json:"pairs"`
	// PairsFile optionally points at a YAML file whose entries are merged
	// over Pairs at load time.
	PairsFile string `json:"pairsFile,omitempty"`
}

// GeneratorConfig configures the reply model behind an OpenAI-compatible API.
type GeneratorConfig struct {
	APIBase string `json:"apiBase"`
	// APIKey may be left empty; the generator falls back to OPENAI_API_KEY
	// when the first reply is requested.
	APIKey                string  `json:"apiKey,omitempty"`
	Model                 string  `json:"model"`
	SystemPrompt          string  `json:"systemPrompt"`
	Temperature           float64 `json:"temperature"`
	MaxTokens             int     `json:"maxTokens,omitempty"`
	RequestTimeoutSeconds int     `json:"requestTimeoutSeconds"`
}

// MemoryConfig configures the persistent translation memory.
type MemoryConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"` // optional: restrict to specific guild
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.babelbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".babelbot"
	}
	return filepath.Join(home, ".babelbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

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

	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Translator.PairsFile = ExpandPath(cfg.Translator.PairsFile)

	if cfg.Translator.PairsFile != "" {
		pairs, err := LoadPairsFile(cfg.Translator.PairsFile)
		if err != nil {
			return nil, fmt.Errorf("load pairs file: %w", err)
		}
		if cfg.Translator.Pairs == nil {
			cfg.Translator.Pairs = make(map[string]string, len(pairs))
		}
		for key, model := range pairs {
			cfg.Translator.Pairs[key] = model
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
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
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.ChatPath, "/") {
		errs = append(errs, "server.chatPath must start with /")
	}
	if cfg.Server.QueueDepth < 1 || cfg.Server.QueueDepth > 4096 {
		errs = append(errs, "server.queueDepth must be between 1 and 4096")
	}
	if cfg.Server.MaxMessageBytes < 1024 {
		errs = append(errs, "server.maxMessageBytes must be >= 1024")
	}

	if cfg.Translator.APIBase == "" {
		errs = append(errs, "translator.apiBase is required")
	}
	if cfg.Translator.RequestTimeoutSeconds < 1 {
		errs = append(errs, "translator.requestTimeoutSeconds must be >= 1")
	}
	if cfg.Translator.LoadTimeoutSeconds < 1 {
		errs = append(errs, "translator.loadTimeoutSeconds must be >= 1")
	}
	for key, model := range cfg.Translator.Pairs {
		src, tgt, found := strings.Cut(key, "->")
		if !found || !language.IsValidCode(language.Normalize(src)) || !language.IsValidCode(language.Normalize(tgt)) {
			errs = append(errs, fmt.Sprintf("translator.pairs: invalid route key %q (want \"src->tgt\")", key))
			continue
		}
		if strings.TrimSpace(model) == "" {
			errs = append(errs, fmt.Sprintf("translator.pairs.%s: model ID is required", key))
		}
	}

	if cfg.Generator.APIBase == "" {
		errs = append(errs, "generator.apiBase is required")
	}
	if cfg.Generator.Model == "" {
		errs = append(errs, "generator.model is required")
	}
	if cfg.Generator.Temperature < 0 || cfg.Generator.Temperature > 2 {
		errs = append(errs, "generator.temperature must be between 0 and 2")
	}
	if cfg.Generator.RequestTimeoutSeconds < 1 {
		errs = append(errs, "generator.requestTimeoutSeconds must be >= 1")
	}

	if cfg.Memory.Enabled && cfg.Memory.DBPath == "" {
		errs = append(errs, "memory.dbPath is required when memory is enabled")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when discord is enabled")
	}
	if cfg.Channels.Slack.Enabled && (cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "") {
		errs = append(errs, "channels.slack.botToken and channels.slack.appToken are required when slack is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
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
