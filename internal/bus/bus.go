// Package bus carries messages between channels and the relay inside
// the process.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"wandabot/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based message bus. Inbound messages are
// buffered so webhook handlers can acknowledge receipt without waiting
// for the relay; outbound messages are dispatched to the handler
// registered for their channel.
type InMemoryBus struct {
	inbound  chan domain.InboundMessage
	handlers map[string]func(domain.OutboundMessage)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates an InMemoryBus with the given inbound buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, bufferSize),
		handlers: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

// Publish enqueues an inbound message. Blocks up to 10 seconds when the
// buffer is full instead of dropping; publish order is delivery order.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("inbound bus full, waiting", "channel", msg.Channel, "sender", msg.SenderID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("message delivered after wait", "channel", msg.Channel)
		case <-timer.C:
			b.logger.Error("message dropped: bus full for 10s",
				"channel", msg.Channel,
				"sender", msg.SenderID,
			)
		}
	}
}

// Subscribe returns the inbound stream consumed by the relay.
func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// SendOutbound dispatches a reply to the handler registered for its
// channel. Unroutable replies are logged and dropped: a missing sender
// must never crash message processing.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", msg.Channel)
		return
	}

	handler(msg)
}

// OnOutbound registers the outbound handler for a channel name.
func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

// Close shuts the inbound stream. Idempotent.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
