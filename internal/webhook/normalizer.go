// Package webhook receives chat-platform webhook deliveries and reduces
// their loosely specified payload shapes to inbound messages.
package webhook

import (
	"strings"

	"wandabot/internal/domain"
)

// EventMessagesUpsert is the only event type that carries new user
// messages. Everything else (connection updates, receipts, presence)
// is expected traffic and ignored silently.
const EventMessagesUpsert = "messages.upsert"

// Normalize reduces an already-parsed webhook payload to its inbound
// messages, in input order. It is a pure function: unrelated event
// types, empty data, unrecognized shapes, self-sent echoes and
// text-less entries (media, audio, stickers) all contribute nothing,
// and none of them are errors. Channel and Timestamp are left for the
// caller to stamp.
func Normalize(payload map[string]any) []domain.InboundMessage {
	if getString(payload, "event") != EventMessagesUpsert {
		return nil
	}

	entries, ok := matchShape(payload)
	if !ok {
		return nil
	}

	var msgs []domain.InboundMessage
	for _, entry := range entries {
		if msg, ok := extractMessage(entry); ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// matchShape tries the known payload layouts in order; first match
// wins. The variants observed across upstream connectors are:
//  1. a single message object directly under "data"
//  2. a list of message objects under "data"
//  3. a list under a top-level "messages" key
func matchShape(payload map[string]any) ([]map[string]any, bool) {
	if entries, ok := singleUnderData(payload); ok {
		return entries, true
	}
	if entries, ok := listUnderData(payload); ok {
		return entries, true
	}
	if entries, ok := topLevelMessages(payload); ok {
		return entries, true
	}
	return nil, false
}

// singleUnderData matches a lone message object under "data",
// identified by the presence of a "message" or "key" field.
func singleUnderData(payload map[string]any) ([]map[string]any, bool) {
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return nil, false
	}
	if _, hasMessage := data["message"]; !hasMessage {
		if _, hasKey := data["key"]; !hasKey {
			return nil, false
		}
	}
	return []map[string]any{data}, true
}

// listUnderData matches a message list under "data".
func listUnderData(payload map[string]any) ([]map[string]any, bool) {
	list, ok := payload["data"].([]any)
	if !ok {
		return nil, false
	}
	return asEntryList(list), true
}

// topLevelMessages matches a message list under a top-level "messages"
// key, the shape some connectors use instead of "data".
func topLevelMessages(payload map[string]any) ([]map[string]any, bool) {
	list, ok := payload["messages"].([]any)
	if !ok {
		return nil, false
	}
	return asEntryList(list), true
}

func asEntryList(list []any) []map[string]any {
	entries := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if entry, ok := item.(map[string]any); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// extractMessage reduces one payload entry to {sender, text}. Entries
// flagged fromMe are the bot's own echoes and are skipped. A missing
// fromMe flag means false: defaulting to true would silently drop
// genuine inbound traffic.
func extractMessage(entry map[string]any) (domain.InboundMessage, bool) {
	key, _ := entry["key"].(map[string]any)

	if getBool(key, "fromMe") {
		return domain.InboundMessage{}, false
	}

	sender := getString(key, "remoteJid")
	if sender == "" {
		sender = getString(entry, "chatId")
	}
	if sender == "" {
		return domain.InboundMessage{}, false
	}

	text := extractText(entry)
	if text == "" {
		return domain.InboundMessage{}, false
	}

	return domain.InboundMessage{SenderID: sender, Text: text}, true
}

// extractText reads the message text from the plain "conversation"
// field, then from the nested extended text message, in that priority
// order. Media entries have neither and yield "".
func extractText(entry map[string]any) string {
	message, _ := entry["message"].(map[string]any)
	if message == nil {
		return ""
	}

	if text := strings.TrimSpace(getString(message, "conversation")); text != "" {
		return text
	}

	extended, _ := message["extendedTextMessage"].(map[string]any)
	return strings.TrimSpace(getString(extended, "text"))
}

// getString reads an optional string field; absence and non-string
// values both yield "".
func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// getBool reads an optional bool field, defaulting to false.
func getBool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}
