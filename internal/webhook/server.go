package webhook

import (
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

	"wandabot/internal/domain"
	"wandabot/internal/metrics"
)

const maxBodyBytes = 1 << 20 // 1MB

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	Host        string
	Port        int
	Path        string // webhook URL path (default: /webhook)
	Channel     string // bus channel name for normalized messages (default: evolution)
	VerifyToken string // token for the provider verification handshake
	Secret      string // optional HMAC secret for X-Hub-Signature-256 verification
	MetricsPath string // Prometheus endpoint (empty = disabled)
	Logger      *slog.Logger
}

// Server is the inbound webhook endpoint. It acknowledges deliveries
// immediately: the POST handler normalizes the payload, publishes the
// extracted messages to the bus and returns 200 without waiting for the
// oracle round trip. The upstream provider treats any non-200 as a
// delivery failure and retries, so even ignored and unparsable bodies
// are answered with success.
type Server struct {
	host        string
	port        int
	path        string
	channel     string
	verifyToken string
	secret      string
	metricsPath string

	bus    domain.MessageBus
	logger *slog.Logger
	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates the webhook server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.Channel == "" {
		cfg.Channel = "evolution"
	}
	return &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		path:        cfg.Path,
		channel:     cfg.Channel,
		verifyToken: cfg.VerifyToken,
		secret:      cfg.Secret,
		metricsPath: cfg.MetricsPath,
		logger:      cfg.Logger,
		mux:         http.NewServeMux(),
	}
}

// Mount attaches an extra handler (e.g. a channel's own webhook) to the
// server's mux. Must be called before Start.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start begins serving and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	s.mux.HandleFunc("GET "+s.path, s.handleVerification)
	s.mux.HandleFunc("POST "+s.path, s.handleReceive)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metricsPath != "" {
		s.mux.Handle("GET "+s.metricsPath, metrics.Collector.Handler())
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook server starting", "addr", s.server.Addr, "path", s.path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

// handleVerification answers the provider's subscription handshake:
// echo hub.challenge when the mode and token match, 403 otherwise.
func (s *Server) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == s.verifyToken {
		s.logger.Info("webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	s.logger.Warn("webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleReceive ingests one webhook delivery. Signature failures are
// authentication errors and get 403; everything else, including a body
// that cannot even be read, is answered with 200 so the provider does
// not redeliver.
func (s *Server) handleReceive(rw http.ResponseWriter, r *http.Request) {
	metrics.WebhooksTotal.Inc()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Warn("webhook body read failed", "err", err)
		metrics.WebhooksIgnored.Inc()
		s.respondOK(rw)
		return
	}
	defer r.Body.Close()

	if s.secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !verifySignature(body, s.secret, sig) {
			s.logger.Warn("invalid webhook signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		s.logger.Warn("webhook body is not valid JSON", "err", err)
		metrics.WebhooksIgnored.Inc()
		s.respondOK(rw)
		return
	}

	msgs := Normalize(payload)
	if len(msgs) == 0 {
		metrics.WebhooksIgnored.Inc()
		s.respondOK(rw)
		return
	}

	now := time.Now()
	for _, msg := range msgs {
		msg.Channel = s.channel
		msg.Timestamp = now
		s.bus.Publish(msg)
	}

	s.logger.Info("webhook delivery accepted", "messages", len(msgs))
	s.respondOK(rw)
}

func (s *Server) respondOK(rw http.ResponseWriter) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]string{"status": "running"})
}

// verifySignature checks an X-Hub-Signature-256 header against the body.
func verifySignature(body []byte, secret, signature string) bool {
	const prefix = "sha256="
	if len(signature) <= len(prefix) || signature[:len(prefix)] != prefix {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature[len(prefix):]), []byte(expected))
}
