package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"babelbot/internal/domain"
	"babelbot/internal/language"
	"babelbot/internal/relay"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram serves the relay over a Telegram bot. Each chat carries a
// language preference set with /lang; messages are answered in that
// language through the same pipeline the WebSocket channel uses.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)

	bot    *tgbotapi.BotAPI
	relay  Processor
	routes RouteLister
	logger *slog.Logger

	// prefs maps chat ID to the language its user speaks.
	prefs   map[int64]string
	prefsMu sync.Mutex
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	Relay     Processor
	Routes    RouteLister
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		relay:     cfg.Relay,
		routes:    cfg.Routes,
		logger:    logger,
		prefs:     make(map[int64]string),
	}
}

var _ domain.Channel = (*Telegram)(nil)

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(chatID, update.Message)
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	payload := domain.ChatPayload{
		Text:           text,
		SourceLanguage: t.languageFor(chatID),
		BotLanguage:    domain.BotLanguageSource,
	}

	// Run the turn off the polling loop so a slow pipeline in one chat does
	// not stall the others.
	go func() {
		reply, err := t.relay.Process(ctx, payload)
		if err != nil {
			t.sendMessage(chatID, relay.ErrorMessage(err))
			return
		}
		t.sendMessage(chatID, reply.Reply)
	}()
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendMessage(chatID, "Hello! I'm BabelBot. Write to me in your language and I'll answer in it.\n\nCommands:\n/lang <code> - set your language (e.g. /lang hi)\n/languages - list supported routes\n/help - show this message")
	case "help":
		t.sendMessage(chatID, "Send me any message and I'll reply in your language.\n\nCommands:\n/lang <code> - set your language\n/lang - show your current language\n/languages - list supported routes")
	case "lang":
		t.handleLangCommand(chatID, strings.TrimSpace(msg.CommandArguments()))
	case "languages":
		t.sendMessage(chatID, t.routeList())
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) handleLangCommand(chatID int64, arg string) {
	if arg == "" {
		code := t.languageFor(chatID)
		t.sendMessage(chatID, fmt.Sprintf("Your language is %s (%s).", language.Name(code), code))
		return
	}

	code := language.Normalize(arg)
	if !language.IsValidCode(code) {
		t.sendMessage(chatID, fmt.Sprintf("%q is not a language code I understand. Try something like /lang hi.", arg))
		return
	}

	t.prefsMu.Lock()
	t.prefs[chatID] = code
	t.prefsMu.Unlock()
	t.logger.Info("telegram language set", "chat_id", chatID, "lang", code)
	t.sendMessage(chatID, fmt.Sprintf("Language set to %s (%s).", language.Name(code), code))
}

func (t *Telegram) languageFor(chatID int64) string {
	t.prefsMu.Lock()
	defer t.prefsMu.Unlock()
	if code, ok := t.prefs[chatID]; ok {
		return code
	}
	return domain.DefaultLanguage
}

func (t *Telegram) routeList() string {
	if t.routes == nil {
		return "No translation routes configured."
	}
	routes := t.routes.Routes()
	if len(routes) == 0 {
		return "No translation routes configured."
	}
	var sb strings.Builder
	sb.WriteString("Supported routes:\n")
	for _, r := range routes {
		fmt.Fprintf(&sb, "%s -> %s (%s)\n",
			language.Name(r.Pair.Source), language.Name(r.Pair.Target), r.Pair.Key())
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends one message chunk with rate limit handling. Translated
// replies go out as plain text; no parse mode to trip over.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		// Handle Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
