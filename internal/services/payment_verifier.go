package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"channel-gate/internal/metrics"
	"channel-gate/pkg/logging"
)

// MetadataIdentityKey carries the Telegram user ID through the gateway
const MetadataIdentityKey = "telegram_user_id"

// acceptedStatuses are gateway statuses that mean the money arrived
var acceptedStatuses = map[string]bool{
	"completed": true,
	"credit":    true,
	"credited":  true,
	"success":   true,
	"succeeded": true,
}

// Verification is a confirmed payment for one subscriber
type Verification struct {
	Identity         int64
	Status           string
	PaymentRequestID string
}

// PaymentVerifier turns a webhook reference into a confirmed subscriber identity
type PaymentVerifier struct {
	gateway PaymentGateway
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewPaymentVerifier creates a verifier; timeout bounds each gateway lookup
func NewPaymentVerifier(gateway PaymentGateway, timeout time.Duration, m *metrics.Metrics) *PaymentVerifier {
	return &PaymentVerifier{gateway: gateway, timeout: timeout, metrics: m}
}

// Verify looks up reference and returns the paying identity.
// Lookup failures, unknown statuses and unusable metadata all report false.
func (v *PaymentVerifier) Verify(ctx context.Context, reference string) (Verification, bool) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		logging.Warnf("Payment verification skipped - empty reference")
		return Verification{}, false
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	start := time.Now()
	pr, err := v.gateway.GetPaymentRequest(ctx, reference)
	v.metrics.ExternalCallDuration.WithLabelValues("gateway", "get_payment_request").Observe(time.Since(start).Seconds())
	if err != nil {
		logging.Errorf("Payment lookup failed - reference: %s, error: %v", reference, err)
		return Verification{}, false
	}

	status := NormalizeStatus(pr.Status)
	if !acceptedStatuses[status] {
		logging.Infof("Payment not completed - reference: %s, status: %q", reference, pr.Status)
		return Verification{}, false
	}

	identity, err := IdentityFromMetadata(pr.Metadata)
	if err != nil {
		logging.Errorf("Payment has no usable subscriber - reference: %s, error: %v", reference, err)
		return Verification{}, false
	}

	id := pr.ID
	if id == "" {
		id = reference
	}
	return Verification{Identity: identity, Status: status, PaymentRequestID: id}, true
}

// NormalizeStatus lowercases and trims a gateway status
func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// IdentityFromMetadata extracts the subscriber ID from request metadata.
// The metadata may arrive as a JSON object or as a JSON string holding one.
func IdentityFromMetadata(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("metadata is empty")
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return 0, fmt.Errorf("decode metadata string: %w", err)
		}
		raw = json.RawMessage(inner)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var meta map[string]interface{}
	if err := dec.Decode(&meta); err != nil {
		return 0, fmt.Errorf("decode metadata: %w", err)
	}

	value, ok := meta[MetadataIdentityKey]
	if !ok {
		return 0, fmt.Errorf("metadata has no %s", MetadataIdentityKey)
	}

	var text string
	switch v := value.(type) {
	case string:
		text = v
	case json.Number:
		text = v.String()
	default:
		return 0, fmt.Errorf("%s has unexpected type %T", MetadataIdentityKey, value)
	}

	return ParseIdentity(text)
}

// ParseIdentity parses a positive decimal Telegram user ID
func ParseIdentity(text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("identity is empty")
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("identity %q is not numeric", text)
		}
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("identity %q: %w", text, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("identity %q must be positive", text)
	}
	return id, nil
}
