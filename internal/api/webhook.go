package api

import (
	"context"
	"net/http"

	"channel-gate/internal/response"
	"channel-gate/internal/services"
	"channel-gate/pkg/logging"

	"github.com/gin-gonic/gin"
)

// Webhook outcomes, also used as metric labels
const (
	outcomeMissingReference = "missing_reference"
	outcomeBadMAC           = "bad_mac"
	outcomeUnverified       = "unverified"
	outcomeDuplicate        = "duplicate"
	outcomeFailed           = "activation_failed"
	outcomeActivated        = "activated"
)

// InstamojoWebhook activates a subscription for a completed payment.
// It always answers 200 so the gateway does not redeliver inconclusive events.
func (h *Handler) InstamojoWebhook(c *gin.Context) {
	outcome := h.handleWebhook(c)
	h.Metrics.WebhookRequestsTotal.WithLabelValues(outcome).Inc()
	response.Text(c, http.StatusOK, outcome)
}

func (h *Handler) handleWebhook(c *gin.Context) string {
	if err := c.Request.ParseForm(); err != nil {
		logging.Warnf("Webhook form unreadable: %v", err)
	}
	form := c.Request.PostForm

	reference := form.Get("payment_request_id")
	if reference == "" {
		reference = form.Get("payment_request")
	}
	if reference == "" {
		logging.Warnf("Webhook without payment request id - ip: %s", c.ClientIP())
		return outcomeMissingReference
	}

	if h.WebhookSalt != "" && !services.VerifyWebhookMAC(form, h.WebhookSalt) {
		logging.Warnf("Webhook MAC mismatch - payment_request: %s, ip: %s", reference, c.ClientIP())
		return outcomeBadMAC
	}

	// The gateway may hang up; activation still has to finish.
	ctx := context.WithoutCancel(c.Request.Context())

	verification, ok := h.Verifier.Verify(ctx, reference)
	if !ok {
		return outcomeUnverified
	}

	acquired, err := h.Guard.Acquire(ctx, verification.PaymentRequestID)
	if err != nil {
		logging.Warnf("Proceeding without dedupe - payment_request: %s, error: %v", verification.PaymentRequestID, err)
	}
	if !acquired {
		return outcomeDuplicate
	}

	if _, err := h.Engine.Activate(ctx, verification.Identity, h.clock()); err != nil {
		logging.Errorf("Activation failed - payment_request: %s, identity: %d, error: %v",
			verification.PaymentRequestID, verification.Identity, err)
		if err := h.Guard.Release(ctx, verification.PaymentRequestID); err != nil {
			logging.Errorf("Failed to release payment guard - payment_request: %s, error: %v", verification.PaymentRequestID, err)
		}
		return outcomeFailed
	}

	logging.Infof("Payment processed - payment_request: %s, identity: %d", verification.PaymentRequestID, verification.Identity)
	return outcomeActivated
}
