package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"wandabot/internal/domain"
	"wandabot/internal/metrics"
)

const telegramMaxSendRetries = 3

// Telegram implements domain.Channel for a Telegram bot. It is a
// secondary surface: the same persona, long-polling instead of
// webhooks.
type Telegram struct {
	token       string
	allowFrom   []int64 // allowed user IDs (empty = allow all)
	parseMode   string
	sendTimeout time.Duration
	deliveries  domain.DeliveryLogger

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramChannelConfig struct {
	Token       string
	AllowFrom   []string // user IDs as strings
	ParseMode   string
	SendTimeout time.Duration
	Deliveries  domain.DeliveryLogger
	Logger      *slog.Logger
}

func NewTelegram(cfg TelegramChannelConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Telegram{
		token:       cfg.Token,
		allowFrom:   allowed,
		parseMode:   cfg.ParseMode,
		sendTimeout: cfg.SendTimeout,
		deliveries:  cfg.Deliveries,
		logger:      cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and blocks polling for updates until the
// context is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPIWithClient(t.token, tgbotapi.APIEndpoint,
		&http.Client{Timeout: t.sendTimeout})
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.To, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "to", msg.To, "error", err)
			return
		}
		logDelivery(t.deliveries, t.logger, "telegram", msg.To, t.sendMessage(chatID, msg.Text))
	})

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
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled.
// Calling StopReceivingUpdates twice panics.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) Send(ctx context.Context, to string, text string) error {
	id, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	return t.sendMessage(id, text)
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
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
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		if update.Message.Command() == "start" {
			t.sendMessage(chatID, "Fale. Estou ouvindo, infelizmente.")
		}
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	metrics.MessagesTotal.Inc()
	t.bus.Publish(domain.InboundMessage{
		Channel:   "telegram",
		SenderID:  strconv.FormatInt(chatID, 10),
		Text:      text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) error {
	for _, chunk := range splitMessage(text, maxChatMessageLen) {
		if err := t.sendChunk(chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk sends a single message chunk with retry and rate limit
// handling. Markdown first, plain text on parse errors.
func (t *Telegram) sendChunk(chatID int64, text string) error {
	var lastErr error

	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"error", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return nil
			}
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
	}

	metrics.DeliveryFailures.Inc()
	t.logger.Error("telegram send failed after retries",
		"error", lastErr, "attempts", telegramMaxSendRetries+1)
	return lastErr
}
