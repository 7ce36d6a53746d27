package channel

import (
	"context"
	"log/slog"
	"time"

	"wandabot/internal/domain"
)

const (
	defaultSendTimeout = 30 * time.Second
	deliveryLogTimeout = 5 * time.Second
)

// logDelivery appends a send outcome to the delivery audit trail, off
// the send path. A nil logger means the store is disabled.
func logDelivery(deliveries domain.DeliveryLogger, logger *slog.Logger, ch, to string, sendErr error) {
	if deliveries == nil {
		return
	}
	detail := ""
	if sendErr != nil {
		detail = sendErr.Error()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryLogTimeout)
		defer cancel()
		if err := deliveries.LogDelivery(ctx, ch, to, sendErr == nil, detail); err != nil {
			logger.Warn("delivery log write failed", "channel", ch, "error", err)
		}
	}()
}
