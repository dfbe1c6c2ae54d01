package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"channel-gate/internal/metrics"
	"channel-gate/pkg/logging"
)

// Checkout creates gateway payment requests for subscribers
type Checkout struct {
	gateway  PaymentGateway
	baseURL  string
	priceINR int
	purpose  string
	timeout  time.Duration
	metrics  *metrics.Metrics
}

// NewCheckout creates a checkout; baseURL is the public root of this service
func NewCheckout(gateway PaymentGateway, baseURL string, priceINR int, timeout time.Duration, m *metrics.Metrics) *Checkout {
	return &Checkout{
		gateway:  gateway,
		baseURL:  baseURL,
		priceINR: priceINR,
		purpose:  "Premium Membership",
		timeout:  timeout,
		metrics:  m,
	}
}

// Start creates a payment request for identity and returns the gateway pay URL
func (c *Checkout) Start(ctx context.Context, identity int64) (string, error) {
	if identity <= 0 {
		return "", ErrInvalidIdentity
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	pr, err := c.gateway.CreatePaymentRequest(ctx, PaymentRequestParams{
		Purpose:     c.purpose,
		Amount:      c.priceINR,
		RedirectURL: c.baseURL + "/payment-return",
		WebhookURL:  c.baseURL + "/instamojo-webhook",
		Metadata:    map[string]string{MetadataIdentityKey: strconv.FormatInt(identity, 10)},
	})
	c.metrics.ExternalCallDuration.WithLabelValues("gateway", "create_payment_request").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("create payment request: %w", err)
	}

	logging.Infof("Payment request created - identity: %d, request_id: %s", identity, pr.ID)
	return pr.LongURL, nil
}

// PayURL is the link subscribers follow to start a payment
func PayURL(baseURL string, identity int64) string {
	return fmt.Sprintf("%s/pay?tg=%d", baseURL, identity)
}
