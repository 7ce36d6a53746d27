package domain

import "context"

// Channel is a chat surface the relay can receive from and reply to.
// Start blocks for polling channels (Telegram) and returns immediately
// for webhook-fed ones; either way it registers the channel's outbound
// handler on the bus.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, to string, text string) error
}
