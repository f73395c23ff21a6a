package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"agentdesk/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramAgentCallback  = "agent:"
	telegramBusyText       = "I'm juggling a lot of conversations right now. Please try again in a moment."
)

// Telegram implements domain.Channel for a long-polling Telegram bot.
// Commands such as /agent are forwarded to the agent loop like any other text.
type Telegram struct {
	token       string
	apiEndpoint string
	allowFrom   []int64 // Allowed user IDs (empty = allow all)
	parseMode   string
	agents      []string // offered on /agents as buttons

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger

	retryDelay time.Duration
}

var _ domain.Channel = (*Telegram)(nil)

type TelegramConfig struct {
	Token       string
	APIEndpoint string   // defaults to the public Bot API
	AllowFrom   []string // User IDs as strings
	ParseMode   string
	Agents      []string
	Logger      *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:       cfg.Token,
		apiEndpoint: cfg.APIEndpoint,
		allowFrom:   allowed,
		parseMode:   cfg.ParseMode,
		agents:      cfg.Agents,
		logger:      cfg.Logger,
		retryDelay:  time.Second,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// connect authenticates the bot and routes outbound replies to it.
func (t *Telegram) connect(bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.token, t.apiEndpoint)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
			return
		}
		t.sendMessage(chatID, msg.Content)
	})
	return nil
}

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	if err := t.connect(bus); err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	t.sendMessage(id, content)
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(ctx, update.CallbackQuery)
		return
	}

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

	if update.Message.IsCommand() && update.Message.Command() == "agents" && len(t.agents) > 0 {
		t.sendAgentPicker(chatID)
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Request(typing)

	t.publish(ctx, chatID, userID, text, time.Unix(int64(update.Message.Date), 0))
}

func (t *Telegram) publish(ctx context.Context, chatID, userID int64, text string, at time.Time) {
	err := t.bus.Publish(ctx, domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Content:   text,
		Timestamp: at,
	})
	if err != nil {
		t.logger.Warn("telegram message not queued", "chat_id", chatID, "err", err)
		t.sendMessage(chatID, telegramBusyText)
	}
}

// sendAgentPicker offers one button per persona; pressing one switches the chat.
func (t *Telegram) sendAgentPicker(chatID int64) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, name := range t.agents {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(name, telegramAgentCallback+name),
		))
	}
	msg := tgbotapi.NewMessage(chatID, "Who would you like to talk to?")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("send agent picker failed", "chat_id", chatID, "err", err)
	}
}

func (t *Telegram) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
		return
	}
	chatID := cq.Message.Chat.ID

	_, _ = t.bot.Request(tgbotapi.NewCallback(cq.ID, ""))

	if !t.isAllowed(cq.From.ID) {
		return
	}
	name, ok := strings.CutPrefix(cq.Data, telegramAgentCallback)
	if !ok || name == "" {
		return
	}

	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, _ = t.bot.Request(edit)

	t.publish(ctx, chatID, cq.From.ID, "/agent "+name, time.Now())
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
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Markdown is tried first; a parse error falls back to plain text.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * t.retryDelay
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			if _, err2 := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err2 == nil {
				return
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * t.retryDelay
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
