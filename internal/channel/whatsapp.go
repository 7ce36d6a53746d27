// Package channel contains the chat surfaces the relay speaks through:
// the WhatsApp Business Cloud API, an Evolution API instance, and a
// Telegram bot.
package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"time"

	"wandabot/internal/config"
	"wandabot/internal/domain"
	"wandabot/internal/metrics"
)

const whatsappAPIBase = "https://graph.facebook.com/v22.0"

// WhatsApp implements domain.Channel for the WhatsApp Business Cloud API.
type WhatsApp struct {
	cfg         config.WhatsAppConfig
	verifyToken string
	apiBase     string
	deliveries  domain.DeliveryLogger
	bus         domain.MessageBus
	logger      *slog.Logger
	client      *http.Client
	mux         *http.ServeMux
}

type WhatsAppChannelConfig struct {
	Config      config.WhatsAppConfig
	VerifyToken string
	APIBase     string // test override
	SendTimeout time.Duration
	Deliveries  domain.DeliveryLogger
	Logger      *slog.Logger
}

func NewWhatsApp(cfg WhatsAppChannelConfig) *WhatsApp {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = whatsappAPIBase
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &WhatsApp{
		cfg:         cfg.Config,
		verifyToken: cfg.VerifyToken,
		apiBase:     apiBase,
		deliveries:  cfg.Deliveries,
		logger:      cfg.Logger,
		client:      &http.Client{Timeout: timeout},
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus

	bus.OnOutbound("whatsapp", func(msg domain.OutboundMessage) {
		err := w.sendMessage(ctx, msg.To, msg.Text)
		if err != nil {
			metrics.DeliveryFailures.Inc()
			w.logger.Error("whatsapp send failed", "error", err, "to", msg.To)
		}
		logDelivery(w.deliveries, w.logger, "whatsapp", msg.To, err)
	})

	w.mux = http.NewServeMux()
	webhookPath := w.cfg.WebhookPath
	if webhookPath == "" {
		webhookPath = "/webhook/whatsapp"
	}

	w.mux.HandleFunc("GET "+webhookPath, w.handleVerification)
	w.mux.HandleFunc("POST "+webhookPath, w.handleIncoming)

	w.logger.Info("whatsapp channel ready", "webhook", webhookPath)
	return nil
}

func (w *WhatsApp) Stop() error { return nil }

func (w *WhatsApp) Send(ctx context.Context, to string, text string) error {
	return w.sendMessage(ctx, to, text)
}

// Handler returns the HTTP handler for the WhatsApp webhook, to be
// mounted on the main server mux.
func (w *WhatsApp) Handler() http.Handler {
	if w.mux == nil {
		return http.NotFoundHandler()
	}
	return w.mux
}

// handleVerification answers the Cloud API subscription handshake:
// echo hub.challenge when hub.mode and hub.verify_token match.
func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.verifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleIncoming walks the Cloud API envelope and publishes each text
// message. Non-text entries are skipped; everything still answers 200
// so the platform does not retry the delivery.
func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	metrics.WebhooksTotal.Inc()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.logger.Warn("whatsapp body read failed", "error", err)
		metrics.WebhooksIgnored.Inc()
		respondOK(rw)
		return
	}

	if w.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !w.verifySignature(body, sig) {
			w.logger.Warn("whatsapp invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "error", err)
		metrics.WebhooksIgnored.Inc()
		respondOK(rw)
		return
	}

	published := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil || msg.Text.Body == "" {
					continue
				}

				w.logger.Info("whatsapp message received",
					"from", msg.From, "text_len", len(msg.Text.Body))

				w.bus.Publish(domain.InboundMessage{
					Channel:   "whatsapp",
					SenderID:  msg.From,
					Text:      msg.Text.Body,
					Timestamp: time.Now(),
				})
				published++
			}
		}
	}
	if published == 0 {
		metrics.WebhooksIgnored.Inc()
	}

	respondOK(rw)
}

func respondOK(rw http.ResponseWriter) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	rw.Write([]byte(`{"status":"ok"}`))
}

// verifySignature checks the X-Hub-Signature-256 header.
func (w *WhatsApp) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(w.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}

// sendMessage sends a text message via the Cloud API.
func (w *WhatsApp) sendMessage(ctx context.Context, to string, text string) error {
	url := fmt.Sprintf("%s/%s/messages", w.apiBase, w.cfg.PhoneNumberID)

	for _, chunk := range splitMessage(text, maxChatMessageLen) {
		payload := map[string]any{
			"messaging_product": "whatsapp",
			"to":                to,
			"type":              "text",
			"text":              map[string]string{"body": chunk},
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
		req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
		}
		resp.Body.Close()
	}

	return nil
}

// --- Cloud API webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From string  `json:"from"`
	ID   string  `json:"id"`
	Type string  `json:"type"`
	Text *waText `json:"text,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}
