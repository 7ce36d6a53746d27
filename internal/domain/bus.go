package domain

// MessageBus decouples inbound channels from the relay and the relay
// from outbound senders. Channels publish inbound messages and register
// a handler for their outbound traffic; the relay consumes the inbound
// stream and emits outbound messages.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
}
