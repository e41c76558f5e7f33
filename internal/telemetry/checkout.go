package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CheckoutMetrics counts checkout outcomes. A nil receiver is a no-op so
// callers can run without a meter provider (tests, the seed tool).
type CheckoutMetrics struct {
	ordersPlaced     metric.Int64Counter
	checkoutFailures metric.Int64Counter
}

func NewCheckoutMetrics() (*CheckoutMetrics, error) {
	meter := otel.Meter("storefront/checkout")

	ordersPlaced, err := meter.Int64Counter("checkout.orders_placed",
		metric.WithDescription("Orders placed successfully"),
	)
	if err != nil {
		return nil, err
	}

	checkoutFailures, err := meter.Int64Counter("checkout.failures",
		metric.WithDescription("Checkout attempts rejected, by reason"),
	)
	if err != nil {
		return nil, err
	}

	return &CheckoutMetrics{
		ordersPlaced:     ordersPlaced,
		checkoutFailures: checkoutFailures,
	}, nil
}

func (m *CheckoutMetrics) RecordOrderPlaced(ctx context.Context) {
	if m == nil {
		return
	}
	m.ordersPlaced.Add(ctx, 1)
}

func (m *CheckoutMetrics) RecordCheckoutFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.checkoutFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
