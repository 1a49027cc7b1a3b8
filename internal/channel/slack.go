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

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const slackMaxMsgLen = 4000

// Slack relays workspace messages through the chat pipeline using Socket
// Mode, so no public webhook URL is needed. Language preference is held per
// Slack channel and set with the /lang slash command.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	socket   *socketmode.Client
	relay    Processor
	routes   RouteLister
	logger   *slog.Logger
	botUID   string // the bot's own user ID, to avoid replying to self

	prefsMu sync.Mutex
	prefs   map[string]string // slack channel ID -> language code
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string // required for Socket Mode
	Relay    Processor
	Routes   RouteLister
	Logger   *slog.Logger
}

// NewSlack creates a new Slack channel handler.
func NewSlack(cfg SlackConfig) *Slack {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		relay:    cfg.Relay,
		routes:   cfg.Routes,
		logger:   logger,
		prefs:    make(map[string]string),
	}
}

var _ domain.Channel = (*Slack)(nil)

func (s *Slack) Name() string { return "slack" }

// Start connects to Slack via Socket Mode and listens until ctx is cancelled.
func (s *Slack) Start(ctx context.Context) error {
	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.client = api

	authResp, err := api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)
	s.socket = socketClient

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(ctx, eventsAPIEvent)

			case socketmode.EventTypeSlashCommand:
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleSlashCommand(cmd)

			default:
				// Acknowledge unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	switch event.Type {
	case slackevents.CallbackEvent:
		innerEvent := event.InnerEvent
		switch ev := innerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			// Ignore bot's own messages and message_changed subtypes.
			if ev.User == s.botUID || ev.User == "" {
				return
			}
			if ev.SubType != "" {
				return
			}

			s.logger.Info("slack message received",
				"user", ev.User,
				"channel", ev.Channel,
				"content_len", len(ev.Text),
			)
			s.handleMessage(ctx, ev.Channel, ev.Text)

		case *slackevents.AppMentionEvent:
			s.logger.Info("slack mention received",
				"user", ev.User,
				"channel", ev.Channel,
			)

			// Strip the mention prefix.
			content := ev.Text
			if idx := strings.Index(content, ">"); idx >= 0 {
				content = strings.TrimSpace(content[idx+1:])
			}
			s.handleMessage(ctx, ev.Channel, content)
		}
	}
}

func (s *Slack) handleMessage(ctx context.Context, channelID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	payload := domain.ChatPayload{
		Text:           text,
		SourceLanguage: s.languageFor(channelID),
		BotLanguage:    domain.BotLanguageSource,
	}

	// Run off the event loop so a slow turn in one channel does not
	// stall the others.
	go func() {
		reply, err := s.relay.Process(ctx, payload)
		if err != nil {
			s.sendMessage(channelID, relay.ErrorMessage(err))
			return
		}
		s.sendMessage(channelID, reply.Reply)
	}()
}

func (s *Slack) handleSlashCommand(cmd slack.SlashCommand) {
	s.logger.Info("slack slash command",
		"command", cmd.Command,
		"user", cmd.UserID,
		"channel", cmd.ChannelID,
	)

	var text string
	switch cmd.Command {
	case "/lang":
		text = s.setLanguage(cmd.ChannelID, cmd.Text)
	case "/languages":
		text = s.routeList()
	default:
		text = "Commands: /lang <code> to pick your language, /languages to list routes. Everything else is treated as chat."
	}
	s.sendMessage(cmd.ChannelID, text)
}

// setLanguage updates the channel's language preference and returns the
// confirmation text. An empty code reports the current setting.
func (s *Slack) setLanguage(channelID, code string) string {
	if strings.TrimSpace(code) == "" {
		current := s.languageFor(channelID)
		return fmt.Sprintf("Current language: %s (%s). Use /lang <code> to change it.", current, language.Name(current))
	}

	normalized := language.Normalize(code)
	if !language.IsValidCode(normalized) {
		return fmt.Sprintf("%q does not look like a language code. Try a two-letter code such as hi or ja.", code)
	}

	s.prefsMu.Lock()
	s.prefs[channelID] = normalized
	s.prefsMu.Unlock()

	s.logger.Info("slack language set", "channel", channelID, "language", normalized)
	return fmt.Sprintf("Language set to %s (%s). I will reply in %s from now on.",
		normalized, language.Name(normalized), language.Name(normalized))
}

func (s *Slack) languageFor(channelID string) string {
	s.prefsMu.Lock()
	defer s.prefsMu.Unlock()
	if code, ok := s.prefs[channelID]; ok {
		return code
	}
	return domain.DefaultLanguage
}

func (s *Slack) routeList() string {
	var b strings.Builder
	b.WriteString("Configured translation routes:\n")
	for _, route := range s.routes.Routes() {
		fmt.Fprintf(&b, "%s -> %s (%s)\n",
			language.Name(route.Pair.Source), language.Name(route.Pair.Target), route.State)
	}
	return b.String()
}

func (s *Slack) sendMessage(channelID, content string) {
	if content == "" {
		return
	}
	// Split long messages.
	chunks := splitSlackMessage(content, slackMaxMsgLen)
	for _, chunk := range chunks {
		_, _, err := s.client.PostMessage(
			channelID,
			slack.MsgOptionText(chunk, false),
		)
		if err != nil {
			s.logger.Error("slack send failed", "channel", channelID, "err", err)
		}
	}
}

func splitSlackMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
