package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ecrodrig/storefront/internal/domain"
)

// Sender delivers a rendered confirmation message. The default
// implementation just logs; a real mail gateway can be dropped in later.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "confirmation sent", "to", to, "subject", subject)
	return nil
}

type ConfirmationHandler struct {
	sender Sender
	logger *slog.Logger
}

func NewConfirmationHandler(sender Sender, logger *slog.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{
		sender: sender,
		logger: logger,
	}
}

func (h *ConfirmationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order placed event: %w", err)
	}

	h.logger.Info("processing order placed event", "order_id", event.OrderID, "user_id", event.UserID)

	to := event.CustomerEmail
	if to == "" {
		h.logger.Warn("order placed event has no customer email, skipping", "order_id", event.OrderID)
		return nil
	}

	subject := "Order confirmation: " + event.OrderID
	if err := h.sender.Send(ctx, to, subject, renderReceipt(event)); err != nil {
		return fmt.Errorf("send confirmation for order %s: %w", event.OrderID, err)
	}

	return nil
}

func renderReceipt(event domain.OrderPlacedEvent) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Thank you for your order %s.\n\n", event.OrderID)
	for _, item := range event.Items {
		fmt.Fprintf(&b, "%d x %s @ %s\n", item.Qty, item.ProductName, item.PriceEach.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nTotal: %s\n", event.Total.StringFixed(2))

	return b.String()
}
