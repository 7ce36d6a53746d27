// Package agent hosts the conversation relay: it consumes inbound
// messages from the bus, queries the oracle with the fixed persona
// prompt, parses the reply for an action block, and routes the visible
// text back to the sender.
package agent

import (
	"context"
	"log/slog"
	"time"

	"wandabot/internal/action"
	"wandabot/internal/domain"
	"wandabot/internal/metrics"
)

const sinkRecordTimeout = 10 * time.Second

// Relay wires the bus, the oracle and the action sink together.
type Relay struct {
	bus           domain.MessageBus
	oracle        domain.Provider
	sink          domain.ActionSink // may be nil
	prompt        string
	fallback      string
	model         string
	maxTokens     int
	temperature   float64
	oracleTimeout time.Duration
	logger        *slog.Logger
}

type RelayConfig struct {
	Bus           domain.MessageBus
	Oracle        domain.Provider
	Sink          domain.ActionSink
	Persona       Persona
	Model         string
	MaxTokens     int
	Temperature   float64
	OracleTimeout time.Duration
	Logger        *slog.Logger
}

func NewRelay(cfg RelayConfig) *Relay {
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 30 * time.Second
	}
	fallback := cfg.Persona.Fallback
	if fallback == "" {
		fallback = FallbackApology
	}
	return &Relay{
		bus:           cfg.Bus,
		oracle:        cfg.Oracle,
		sink:          cfg.Sink,
		prompt:        BuildPrompt(cfg.Persona),
		fallback:      fallback,
		model:         cfg.Model,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		oracleTimeout: cfg.OracleTimeout,
		logger:        cfg.Logger,
	}
}

// Run consumes the inbound stream until the context is cancelled or the
// bus is closed. Messages are processed strictly sequentially: oracle
// calls are cost-sensitive and reply order matters to the person on the
// other end.
func (r *Relay) Run(ctx context.Context) {
	inbound := r.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			r.process(ctx, msg)
		}
	}
}

func (r *Relay) process(ctx context.Context, msg domain.InboundMessage) {
	metrics.MessagesTotal.Inc()

	replyText := r.queryOracle(ctx, msg)

	reply, warnings := action.ParseReply(replyText)
	for _, w := range warnings {
		r.logger.Warn("action block warning",
			"channel", msg.Channel,
			"sender", msg.SenderID,
			"warning", w,
		)
	}

	if reply.Action != nil {
		metrics.ActionsParsedKind(string(reply.Action.Kind)).Inc()
		r.recordAction(msg, reply.Action, warnings)
	} else if len(warnings) > 0 {
		metrics.ActionsMalformed.Inc()
	}

	if reply.DisplayText == "" {
		r.logger.Info("reply had no visible text, nothing to send",
			"channel", msg.Channel, "sender", msg.SenderID)
		return
	}

	r.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		To:      msg.SenderID,
		Text:    reply.DisplayText,
	})
}

// queryOracle returns the oracle's reply, or the in-persona apology
// when every provider fails. Oracle trouble must never surface to the
// sender as silence or an error.
func (r *Relay) queryOracle(ctx context.Context, msg domain.InboundMessage) string {
	metrics.OracleRequests.Inc()

	callCtx, cancel := context.WithTimeout(ctx, r.oracleTimeout)
	defer cancel()

	start := time.Now()
	resp, err := r.oracle.Chat(callCtx, domain.ChatRequest{
		System:      r.prompt,
		Text:        msg.Text,
		Model:       r.model,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	})
	metrics.OracleLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.OracleFailures.Inc()
		r.logger.Error("oracle query failed, sending fallback",
			"channel", msg.Channel,
			"sender", msg.SenderID,
			"error", err,
		)
		return r.fallback
	}

	r.logger.Info("oracle reply received",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"latency_ms", resp.LatencyMs,
		"tokens", resp.Usage.TotalTokens,
	)
	return resp.Content
}

// recordAction hands the parsed action to the sink without blocking
// reply delivery. Sink failures are logged and dropped.
func (r *Relay) recordAction(msg domain.InboundMessage, parsed *action.Parsed, warnings []string) {
	if r.sink == nil {
		return
	}

	rec := domain.ActionRecord{
		Channel:    msg.Channel,
		SenderID:   msg.SenderID,
		Kind:       string(parsed.Kind),
		Data:       parsed.Data,
		Confidence: parsed.Confidence,
		Notes:      parsed.Notes,
		Warnings:   warnings,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sinkRecordTimeout)
		defer cancel()
		if err := r.sink.Record(ctx, rec); err != nil {
			r.logger.Error("failed to record action",
				"kind", rec.Kind,
				"sender", rec.SenderID,
				"error", err,
			)
		}
	}()
}
