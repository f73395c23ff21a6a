// Package escalation hands conversations over to humans.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/slack-go/slack"

	"agentdesk/internal/domain"
)

// ErrNotConfigured is returned when escalation is disabled or lacks credentials.
var ErrNotConfigured = errors.New("slack escalation not configured")

const excerptMaxRunes = 200

// Slack posts escalations as Block Kit messages to a single channel.
type Slack struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

type SlackConfig struct {
	BotToken  string
	ChannelID string
	APIURL    string // optional, e.g. an httptest server; must end with "/"
	Logger    *slog.Logger
}

var _ domain.Escalator = (*Slack)(nil)

// NewSlack creates a Slack escalator. A missing token or channel yields an
// escalator whose Escalate always returns ErrNotConfigured.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Slack{channel: cfg.ChannelID, logger: cfg.Logger}
	if cfg.BotToken == "" || cfg.ChannelID == "" {
		return s
	}
	var opts []slack.Option
	if cfg.APIURL != "" {
		apiURL := cfg.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	s.client = slack.New(cfg.BotToken, opts...)
	return s
}

// Configured reports whether escalations will actually be delivered.
func (s *Slack) Configured() bool { return s.client != nil }

// Escalate posts e to the escalation channel.
func (s *Slack) Escalate(ctx context.Context, e domain.Escalation) error {
	if !s.Configured() {
		s.logger.Info("slack escalation skipped, not configured", "agent", e.Agent, "tenant", e.TenantID, "reason", e.Reason)
		return ErrNotConfigured
	}

	text, blocks := buildMessage(e)
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		s.logger.Error("slack escalation failed", "agent", e.Agent, "tenant", e.TenantID, "reason", e.Reason, "err", err)
		return fmt.Errorf("slack post: %w", err)
	}
	s.logger.Info("slack escalation sent", "agent", e.Agent, "tenant", e.TenantID, "reason", e.Reason)
	return nil
}

// buildMessage renders the fallback text and Block Kit blocks for e.
func buildMessage(e domain.Escalation) (string, []slack.Block) {
	agent := displayName(e.Agent)
	reason := reasonLabel(e.Reason)
	user := orUnknown(e.UserID)
	tenant := orUnknown(e.TenantID)

	text := fmt.Sprintf("%s Escalation [%s]: %s from %s", agent, reason, user, tenant)

	fields := []*slack.TextBlockObject{
		mrkdwn("*Customer:*\n" + user),
		mrkdwn("*Tenant:*\n" + tenant),
		mrkdwn("*Agent:*\n" + agent),
		mrkdwn("*Reason:*\n" + reason),
	}
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, agent+" Escalation: "+reason, false, false)),
		slack.NewSectionBlock(nil, fields, nil),
	}

	if len(e.Extra) > 0 {
		keys := make([]string, 0, len(e.Extra))
		for k := range e.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var lines []string
		for _, k := range keys {
			if v := strings.TrimSpace(e.Extra[k]); v != "" {
				lines = append(lines, fmt.Sprintf("%s: `%s`", reasonLabel(k), v))
			}
		}
		if len(lines) > 0 {
			blocks = append(blocks, slack.NewSectionBlock(mrkdwn(strings.Join(lines, "\n")), nil, nil))
		}
	}

	if len(e.Excerpt) > 0 {
		var b strings.Builder
		b.WriteString("*Recent Conversation:*\n")
		for _, m := range e.Excerpt {
			who := agent
			if m.Role == domain.RoleUser {
				who = "Customer"
			}
			fmt.Fprintf(&b, "> *%s:* %s\n", who, clip(m.Content, excerptMaxRunes))
		}
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn(b.String()), nil, nil))
	}

	return text, blocks
}

func mrkdwn(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, s, false, false)
}

// reasonLabel turns "billing_question" into "Billing question".
func reasonLabel(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
	if s == "" {
		return "Unspecified"
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

func displayName(agent string) string {
	if agent == "" {
		return "Agent"
	}
	return reasonLabel(agent)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

// clip keeps the first n runes of s, flattened onto one line.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
