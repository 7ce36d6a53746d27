package domain

import "context"

// ActionRecord is a parsed action handed to the downstream executor.
// The relay only detects and validates actions; executing them
// (calendar writes, ledger mutation) happens elsewhere.
type ActionRecord struct {
	Channel    string
	SenderID   string
	Kind       string
	Data       map[string]any
	Confidence *float64 // nil when the model reported none (or an out-of-range value)
	Notes      string
	Warnings   []string
}

// ActionSink receives action records. Implementations must be safe for
// concurrent use; a failing sink must never block reply delivery.
type ActionSink interface {
	Record(ctx context.Context, rec ActionRecord) error
}

// DeliveryLogger records the outcome of outbound sends. Channels call
// it after every send attempt; failures here are logged and dropped,
// never surfaced to the sender.
type DeliveryLogger interface {
	LogDelivery(ctx context.Context, channel, recipient string, ok bool, detail string) error
}
