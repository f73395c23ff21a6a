package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"agentdesk/internal/domain"
)

// CLI implements domain.Channel for interactive terminal chat.
type CLI struct {
	bus       domain.MessageBus
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	prompt    string
	spinner   bool
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

var _ domain.Channel = (*CLI)(nil)

type CLIConfig struct {
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
	Spinner bool // animate while waiting; off for piped input
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		prompt:  "You> ",
		spinner: cfg.Spinner,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until EOF, /quit or ctx ends.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus.OnOutbound("cli", func(msg domain.OutboundMessage) {
		c.stopThinking()
		if c.spinner {
			_, _ = fmt.Fprint(c.out, "\r\033[K") // Clear spinner line
		}
		_, _ = fmt.Fprintln(c.out, msg.Content)
		_, _ = fmt.Fprintln(c.out)
		_, _ = fmt.Fprint(c.out, c.prompt)
	})

	_, _ = fmt.Fprintln(c.out, "agentdesk CLI. Type a message and press Enter. /agents lists personas, /quit exits.")
	_, _ = fmt.Fprint(c.out, c.prompt)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line := strings.TrimSpace(raw)
			if line == "" {
				_, _ = fmt.Fprint(c.out, c.prompt)
				continue
			}
			if line == "/quit" || line == "/exit" || line == "/q" {
				c.logger.Info("user requested quit")
				return nil
			}

			c.startThinking()
			err := c.bus.Publish(ctx, domain.InboundMessage{
				Channel:   "cli",
				ChatID:    "direct",
				SenderID:  "local",
				Content:   line,
				Timestamp: time.Now(),
			})
			if errors.Is(err, domain.ErrBusClosed) {
				c.stopThinking()
				return nil
			}
			if err != nil {
				c.stopThinking()
				_, _ = fmt.Fprintf(c.out, "\r\033[Kerror: %v\n\n%s", err, c.prompt)
			}
		}
	}
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func(stop chan struct{}) {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop)
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

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	_, err := fmt.Fprintln(c.out, content)
	return err
}
