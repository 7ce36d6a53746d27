package domain

import "time"

// InboundMessage is a single user message extracted from a webhook
// delivery or received over a polling channel. Entries without text
// (media, stickers) and self-sent echoes never become InboundMessages;
// they are filtered by the channel that produced the payload.
type InboundMessage struct {
	Channel   string
	SenderID  string
	Text      string
	Timestamp time.Time
}

// OutboundMessage is a reply directive addressed back to a sender.
type OutboundMessage struct {
	Channel string
	To      string
	Text    string
}
