package api

import (
	"context"
	"net/http"
	"time"

	"channel-gate/internal/metrics"
	"channel-gate/internal/middleware"
	"channel-gate/internal/models"
	"channel-gate/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SubscriptionEngine is the lifecycle surface the handlers drive
type SubscriptionEngine interface {
	Activate(ctx context.Context, identity int64, now time.Time) (services.Activation, error)
	Lookup(ctx context.Context, identity int64) (models.Subscription, bool, error)
}

// Verifier confirms a payment reference
type Verifier interface {
	Verify(ctx context.Context, reference string) (services.Verification, bool)
}

// PaymentStarter creates a gateway checkout for a subscriber
type PaymentStarter interface {
	Start(ctx context.Context, identity int64) (string, error)
}

// SweepTrigger runs an expiry sweep on demand
type SweepTrigger interface {
	RunNow(ctx context.Context) (services.SweepReport, error)
}

// Handler holds the HTTP boundary dependencies
type Handler struct {
	Engine        SubscriptionEngine
	Verifier      Verifier
	Checkout      PaymentStarter
	Guard         services.PaymentGuard
	Sweeps        SweepTrigger
	Metrics       *metrics.Metrics
	WebhookSalt   string
	Location      *time.Location
	MetricsSource prometheus.Gatherer
	now           func() time.Time
}

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

func (h *Handler) location() *time.Location {
	if h.Location != nil {
		return h.Location
	}
	return time.UTC
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handler, cronSecret string) {
	r.GET("/", h.Health)
	r.GET("/health", h.Health)

	// Subscriber facing payment flow
	r.GET("/pay", h.Pay)
	r.GET("/payment-return", h.PaymentReturn)

	// Gateway callback, always acknowledged
	r.POST("/instamojo-webhook", h.InstamojoWebhook)

	// Operator routes
	operator := r.Group("")
	operator.Use(middleware.CronSecretMiddleware(cronSecret))
	{
		operator.GET("/run-expiry", h.RunExpiry)
		operator.POST("/run-expiry", h.RunExpiry)
		operator.GET("/api/subscribers/:id", h.GetSubscriber)
	}

	gatherer := h.MetricsSource
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"time": h.clock().In(h.location()).Format(time.RFC3339),
	})
}
