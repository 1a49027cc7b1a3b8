package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"babelbot/internal/domain"
	"babelbot/internal/language"
	"babelbot/internal/relay"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// Discord relays guild and direct messages through the chat pipeline.
// Each Discord channel keeps its own preferred language, set via /lang.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	relay   Processor
	routes  RouteLister
	logger  *slog.Logger

	prefsMu sync.Mutex
	prefs   map[string]string // discord channel ID -> language code
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string // optional: restrict to a single guild
	Relay   Processor
	Routes  RouteLister
	Logger  *slog.Logger
}

// NewDiscord creates a new Discord channel handler.
func NewDiscord(cfg DiscordConfig) *Discord {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		relay:   cfg.Relay,
		routes:  cfg.Routes,
		logger:  logger,
		prefs:   make(map[string]string),
	}
}

var _ domain.Channel = (*Discord)(nil)

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord using a bot token and listens until ctx is cancelled.
func (d *Discord) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	d.session = session

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		// Ignore bot's own messages.
		if m.Author.ID == s.State.User.ID {
			return
		}

		// If guildID is set, filter messages.
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}

		text := strings.TrimSpace(m.Content)
		if text == "" {
			return
		}

		d.logger.Info("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"content_len", len(text),
		)

		d.session.ChannelTyping(m.ChannelID)

		payload := domain.ChatPayload{
			Text:           text,
			SourceLanguage: d.languageFor(m.ChannelID),
			BotLanguage:    domain.BotLanguageSource,
		}

		// Run off the gateway event goroutine so a slow turn in one
		// channel does not stall the others.
		go func() {
			reply, err := d.relay.Process(ctx, payload)
			if err != nil {
				d.sendMessage(m.ChannelID, relay.ErrorMessage(err))
				return
			}
			d.sendMessage(m.ChannelID, reply.Reply)
		}()
	})

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		d.handleCommand(i)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	d.registerSlashCommands()

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) handleCommand(i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()

	var text string
	switch data.Name {
	case "lang":
		code := ""
		for _, opt := range data.Options {
			if opt.Type == discordgo.ApplicationCommandOptionString {
				code = opt.StringValue()
			}
		}
		text = d.setLanguage(i.ChannelID, code)
	case "languages":
		text = d.routeList()
	default:
		text = "Commands: /lang <code> to pick your language, /languages to list routes. Everything else is treated as chat."
	}

	err := d.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: text},
	})
	if err != nil {
		d.logger.Warn("discord interaction respond failed", "command", data.Name, "err", err)
	}
}

// setLanguage updates the channel's language preference and returns the
// confirmation text. An empty code reports the current setting.
func (d *Discord) setLanguage(channelID, code string) string {
	if strings.TrimSpace(code) == "" {
		current := d.languageFor(channelID)
		return fmt.Sprintf("Current language: %s (%s). Use /lang <code> to change it.", current, language.Name(current))
	}

	normalized := language.Normalize(code)
	if !language.IsValidCode(normalized) {
		return fmt.Sprintf("%q does not look like a language code. Try a two-letter code such as hi or ja.", code)
	}

	d.prefsMu.Lock()
	d.prefs[channelID] = normalized
	d.prefsMu.Unlock()

	d.logger.Info("discord language set", "channel_id", channelID, "language", normalized)
	return fmt.Sprintf("Language set to %s (%s). I will reply in %s from now on.",
		normalized, language.Name(normalized), language.Name(normalized))
}

func (d *Discord) languageFor(channelID string) string {
	d.prefsMu.Lock()
	defer d.prefsMu.Unlock()
	if code, ok := d.prefs[channelID]; ok {
		return code
	}
	return domain.DefaultLanguage
}

func (d *Discord) routeList() string {
	var b strings.Builder
	b.WriteString("Configured translation routes:\n")
	for _, route := range d.routes.Routes() {
		fmt.Fprintf(&b, "%s -> %s (%s)\n",
			language.Name(route.Pair.Source), language.Name(route.Pair.Target), route.State)
	}
	return b.String()
}

func (d *Discord) sendMessage(channelID, content string) {
	if content == "" {
		return
	}
	// Split long messages.
	chunks := splitMessage(content, discordMaxMsgLen)
	for _, chunk := range chunks {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			d.logger.Error("discord send failed", "channel", channelID, "err", err)
		}
	}
}

func (d *Discord) registerSlashCommands() {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "lang",
			Description: "Pick the language I reply in",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "code",
					Description: "Language code, e.g. hi or ja",
					Required:    false,
				},
			},
		},
		{
			Name:        "languages",
			Description: "List configured translation routes",
		},
	}

	guildID := d.guildID // empty = global commands
	for _, cmd := range commands {
		_, err := d.session.ApplicationCommandCreate(d.session.State.User.ID, guildID, cmd)
		if err != nil {
			d.logger.Warn("failed to register slash command", "command", cmd.Name, "err", err)
		}
	}
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		// Try to split on a newline.
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
