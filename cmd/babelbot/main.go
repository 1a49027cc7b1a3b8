package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"babelbot/internal/channel"
	"babelbot/internal/config"
	"babelbot/internal/domain"
	"babelbot/internal/generator"
	"babelbot/internal/language"
	"babelbot/internal/relay"
	"babelbot/internal/store"
	"babelbot/internal/translator"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// A local .env can carry OPENAI_API_KEY and friends during development.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "babelbot",
		Short: "BabelBot: multilingual chat relay",
		Long:  "BabelBot relays chat through translation models and an LLM so users converse in their own language.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.babelbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(translateCmd())
	root.AddCommand(languagesCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadOrDefaults loads the config file, falling back to built-in defaults
// when it is missing so the server runs out of the box.
func loadOrDefaults(cfgPath string) *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		cfg.Memory.DBPath = config.ExpandPath(cfg.Memory.DBPath)
	}
	return cfg
}

// newLogger builds the process logger from config. Falls back to stderr when
// the configured log file cannot be opened.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := io.Writer(os.Stderr)
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("cannot open log file, using stderr", "path", cfg.General.LogFile, "err", err)
		} else {
			out = f
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func buildRegistry(cfg *config.Config) *translator.Registry {
	return translator.NewRegistry(translator.RegistryConfig{
		Table:       translator.NewTable(cfg.Translator.Pairs),
		APIBase:     cfg.Translator.APIBase,
		APIToken:    cfg.Translator.APIToken,
		LoadTimeout: time.Duration(cfg.Translator.LoadTimeoutSeconds) * time.Second,
		Logger:      logger,
	})
}

func buildGenerator(cfg *config.Config) *generator.OpenAI {
	return generator.NewOpenAI(generator.OpenAIConfig{
		APIKey:       cfg.Generator.APIKey,
		APIBase:      cfg.Generator.APIBase,
		Model:        cfg.Generator.Model,
		SystemPrompt: cfg.Generator.SystemPrompt,
		Temperature:  cfg.Generator.Temperature,
		MaxTokens:    cfg.Generator.MaxTokens,
		Timeout:      time.Duration(cfg.Generator.RequestTimeoutSeconds) * time.Second,
		Logger:       logger,
	})
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		Long:  "Starts the WebSocket chat endpoint, the JSON API, and any enabled chat channels. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

// buildPipeline assembles the registry, generator, memory, and relay from
// config. The returned cleanup closes the memory store when one was opened.
func buildPipeline(cfg *config.Config) (*relay.Relay, *translator.Registry, func(), error) {
	registry := buildRegistry(cfg)
	gen := buildGenerator(cfg)

	cleanup := func() {}
	var mem domain.TranslationMemory
	if cfg.Memory.Enabled {
		sqlStore, err := store.NewSQLiteStore(cfg.Memory.DBPath, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("translation memory: %w", err)
		}
		mem = sqlStore
		cleanup = func() { sqlStore.Close() }
		logger.Info("translation memory enabled", "path", cfg.Memory.DBPath)
	}

	rel := relay.New(relay.Config{
		Translator:       registry,
		Generator:        gen,
		Memory:           mem,
		Logger:           logger,
		TranslateTimeout: time.Duration(cfg.Translator.RequestTimeoutSeconds) * time.Second,
		GenerateTimeout:  time.Duration(cfg.Generator.RequestTimeoutSeconds) * time.Second,
	})
	return rel, registry, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg := loadOrDefaults(cfgPath)
	logger = newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rel, registry, cleanup, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var channels []domain.Channel
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Relay:     rel,
			Routes:    registry,
			Logger:    logger,
		}))
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		channels = append(channels, channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Relay:   rel,
			Routes:  registry,
			Logger:  logger,
		}))
	}
	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		channels = append(channels, channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Relay:    rel,
			Routes:   registry,
			Logger:   logger,
		}))
	}
	for _, ch := range channels {
		go func() {
			if err := ch.Start(ctx); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
		}()
		logger.Info("channel enabled", "channel", ch.Name())
	}

	server := channel.NewServer(channel.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ChatPath:        cfg.Server.ChatPath,
		QueueDepth:      cfg.Server.QueueDepth,
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		Version:         version,
		Relay:           rel,
		Translator:      registry,
		Routes:          registry,
		Logger:          logger,
	})

	return server.Start(ctx)
}

func chatCmd() *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively from the terminal",
		Long:  "Starts an interactive chat session. Messages are relayed through the translation pipeline in the chosen language.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadOrDefaults(resolveConfigPath())
			logger = newLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rel, _, cleanup, err := buildPipeline(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			cli := channel.NewCLI(channel.CLIConfig{
				Relay:  rel,
				Logger: logger,
				Source: lang,
			})
			return cli.Start(ctx)
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "en", "conversation language code")
	return cmd
}

func translateCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "translate [text]",
		Short: "Translate a single text and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadOrDefaults(resolveConfigPath())

			source := language.Normalize(from)
			target := language.Normalize(to)
			if !language.IsValidCode(source) {
				return fmt.Errorf("invalid source language %q", from)
			}
			if !language.IsValidCode(target) {
				return fmt.Errorf("invalid target language %q", to)
			}
			if source == target {
				fmt.Println(args[0])
				return nil
			}

			// First use loads the model, so allow for warm-up plus the call.
			timeout := time.Duration(cfg.Translator.LoadTimeoutSeconds+cfg.Translator.RequestTimeoutSeconds) * time.Second
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			registry := buildRegistry(cfg)
			out, err := registry.Translate(ctx, args[0], source, target)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&from, "from", "f", "en", "source language code")
	cmd.Flags().StringVarP(&to, "to", "t", "en", "target language code")
	return cmd
}

func languagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List configured translation routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadOrDefaults(resolveConfigPath())
			table := translator.NewTable(cfg.Translator.Pairs)

			for _, pair := range table.Pairs() {
				model, err := table.ModelFor(pair)
				if err != nil {
					continue
				}
				fmt.Printf("%-8s %s -> %s  (%s)\n",
					pair.Key(), language.Name(pair.Source), language.Name(pair.Target), model)
			}
			return nil
		},
	}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, credentials, and upstream reachability",
		RunE:  runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	fmt.Printf("babelbot %s\n\n", version)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		printWarn("config", fmt.Sprintf("%v (using defaults)", err))
		cfg = config.Defaults()
		cfg.Memory.DBPath = config.ExpandPath(cfg.Memory.DBPath)
	} else {
		printPass("config", cfgPath)
	}

	if len(cfg.Translator.Pairs) == 0 {
		printFail("routes", "no translation routes configured")
	} else {
		printPass("routes", fmt.Sprintf("%d configured", len(cfg.Translator.Pairs)))
	}

	if cfg.Generator.APIKey != "" || os.Getenv("OPENAI_API_KEY") != "" {
		printPass("generator key", "credential present")
	} else {
		printWarn("generator key", "no API key configured; the first reply will fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := buildGenerator(cfg).Healthy(ctx); err != nil {
		printWarn("generator API", err.Error())
	} else {
		printPass("generator API", cfg.Generator.APIBase)
	}

	if !cfg.Memory.Enabled {
		printWarn("memory", "disabled")
		return nil
	}
	s, err := store.NewSQLiteStore(cfg.Memory.DBPath, logger)
	if err != nil {
		printFail("memory", err.Error())
		return nil
	}
	defer s.Close()
	n, err := s.Count(ctx)
	if err != nil {
		printFail("memory", err.Error())
		return nil
	}
	printPass("memory", fmt.Sprintf("%s (%d translations)", cfg.Memory.DBPath, n))
	return nil
}

func printPass(name, detail string) { fmt.Printf("[ ok ] %-14s %s\n", name, detail) }
func printWarn(name, detail string) { fmt.Printf("[warn] %-14s %s\n", name, detail) }
func printFail(name, detail string) { fmt.Printf("[fail] %-14s %s\n", name, detail) }

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. generator.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. generator.model gpt-4o)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
