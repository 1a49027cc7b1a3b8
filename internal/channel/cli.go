package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"babelbot/internal/domain"
	"babelbot/internal/language"
	"babelbot/internal/relay"
)

// CLI is the interactive terminal front end. Each line is one chat turn;
// /lang switches the conversation language mid-session.
type CLI struct {
	relay  Processor
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	source string // current conversation language

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

type CLIConfig struct {
	Relay  Processor
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	Source string // initial language, defaults to English
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	source := language.Normalize(cfg.Source)
	if !language.IsValidCode(source) {
		source = domain.DefaultLanguage
	}
	return &CLI{
		relay:  cfg.Relay,
		logger: logger,
		in:     cfg.In,
		out:    cfg.Out,
		source: source,
	}
}

var _ domain.Channel = (*CLI)(nil)

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until EOF, /quit, or ctx cancel.
func (c *CLI) Start(ctx context.Context) error {
	fmt.Fprintf(c.out, "BabelBot chat (language: %s). Type /lang <code> to switch, /quit to exit.\n", language.Name(c.source))
	fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(c.out, "You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}
		if arg, ok := strings.CutPrefix(line, "/lang"); ok {
			c.switchLanguage(strings.TrimSpace(arg))
			fmt.Fprint(c.out, "You> ")
			continue
		}

		c.startThinking()
		reply, err := c.relay.Process(ctx, domain.ChatPayload{
			Text:           line,
			SourceLanguage: c.source,
			BotLanguage:    domain.BotLanguageSource,
		})
		c.stopThinking()

		fmt.Fprint(c.out, "\r\033[K") // Clear spinner line
		if err != nil {
			fmt.Fprintln(c.out, relay.ErrorMessage(err))
		} else {
			fmt.Fprintln(c.out, "--- BabelBot ---")
			fmt.Fprintln(c.out, reply.Reply)
			if reply.ReplyEN != reply.Reply {
				fmt.Fprintf(c.out, "(en: %s)\n", reply.ReplyEN)
			}
			fmt.Fprintln(c.out, "----------------")
		}
		fmt.Fprint(c.out, "You> ")
	}
}

func (c *CLI) switchLanguage(code string) {
	if code == "" {
		fmt.Fprintf(c.out, "Current language: %s (%s)\n", c.source, language.Name(c.source))
		return
	}
	normalized := language.Normalize(code)
	if !language.IsValidCode(normalized) {
		fmt.Fprintf(c.out, "%q does not look like a language code. Try a two-letter code such as hi or ja.\n", code)
		return
	}
	c.source = normalized
	c.logger.Info("cli language set", "language", normalized)
	fmt.Fprintf(c.out, "Language set to %s (%s).\n", normalized, language.Name(normalized))
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-c.thinkStop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}
