package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"wandabot/internal/config"
	"wandabot/internal/domain"
	"wandabot/internal/metrics"
)

// maxChatMessageLen is the conservative per-message limit shared by the
// WhatsApp-backed senders.
const maxChatMessageLen = 4000

// Evolution is the outbound half of an Evolution API instance. Inbound
// traffic arrives through the webhook server; this channel only sends.
type Evolution struct {
	cfg        config.EvolutionConfig
	deliveries domain.DeliveryLogger
	logger     *slog.Logger
	client     *http.Client
}

type EvolutionChannelConfig struct {
	Config      config.EvolutionConfig
	SendTimeout time.Duration
	Deliveries  domain.DeliveryLogger
	Logger      *slog.Logger
}

func NewEvolution(cfg EvolutionChannelConfig) *Evolution {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Evolution{
		cfg:        cfg.Config,
		deliveries: cfg.Deliveries,
		logger:     cfg.Logger,
		client:     &http.Client{Timeout: timeout},
	}
}

func (e *Evolution) Name() string { return "evolution" }

func (e *Evolution) Start(ctx context.Context, bus domain.MessageBus) error {
	bus.OnOutbound("evolution", func(msg domain.OutboundMessage) {
		err := e.sendMessage(ctx, msg.To, msg.Text)
		if err != nil {
			metrics.DeliveryFailures.Inc()
			e.logger.Error("evolution send failed", "error", err, "to", msg.To)
		}
		logDelivery(e.deliveries, e.logger, "evolution", msg.To, err)
	})
	e.logger.Info("evolution channel ready", "instance", e.cfg.Instance)
	return nil
}

func (e *Evolution) Stop() error { return nil }

func (e *Evolution) Send(ctx context.Context, to string, text string) error {
	return e.sendMessage(ctx, to, text)
}

// sendMessage posts to /message/sendText/{instance}. The recipient is
// the bare JID the webhook payload carried.
func (e *Evolution) sendMessage(ctx context.Context, to string, text string) error {
	url := fmt.Sprintf("%s/message/sendText/%s",
		strings.TrimRight(e.cfg.APIBase, "/"), e.cfg.Instance)

	for _, chunk := range splitMessage(text, maxChatMessageLen) {
		payload := map[string]any{
			"number": to,
			"text":   chunk,
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("apikey", e.cfg.APIKey)

		resp, err := e.client.Do(req)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("evolution API %d: %s", resp.StatusCode, string(respBody))
		}
		resp.Body.Close()
	}

	return nil
}

// splitMessage cuts text into chunks of at most maxLen bytes,
// preferring to break at a newline in the second half of the chunk.
// Cuts never land inside a multi-byte rune: the APIs reject chunks
// that are not valid UTF-8.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
			if cutAt == 0 {
				cutAt = maxLen
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}
