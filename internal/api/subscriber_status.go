package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"channel-gate/internal/models"
	"channel-gate/internal/response"
	"channel-gate/internal/services"
	"channel-gate/pkg/logging"

	"github.com/gin-gonic/gin"
)

// SubscriberStatusResponse is the operator view of one subscriber
type SubscriberStatusResponse struct {
	Identity      string `json:"identity"`
	Status        string `json:"status"`
	IsActive      bool   `json:"is_active"`
	ExpiryTS      int64  `json:"expiry_ts"`
	ExpiresAt     string `json:"expires_at"`
	LastPaymentAt string `json:"last_payment_at,omitempty"`
	ExpiredAt     string `json:"expired_at,omitempty"`
}

// NewSubscriberStatusResponse renders rec as seen at now
func NewSubscriberStatusResponse(identity int64, rec models.Subscription, now time.Time, loc *time.Location) SubscriberStatusResponse {
	return SubscriberStatusResponse{
		Identity:      strconv.FormatInt(identity, 10),
		Status:        string(rec.Status),
		IsActive:      rec.Status == models.StatusActive && rec.ExpiryTS > now.Unix(),
		ExpiryTS:      rec.ExpiryTS,
		ExpiresAt:     rec.ExpiresAt().In(loc).Format(time.RFC3339),
		LastPaymentAt: rec.LastPaymentAt,
		ExpiredAt:     rec.ExpiredAt,
	}
}

// GetSubscriber returns the stored record for one subscriber
// GET /api/subscribers/:id
func (h *Handler) GetSubscriber(c *gin.Context) {
	identity, err := services.ParseIdentity(c.Param("id"))
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "id must be a positive Telegram user ID")
		return
	}

	rec, found, err := h.Engine.Lookup(c.Request.Context(), identity)
	if err != nil {
		if errors.Is(err, services.ErrInvalidIdentity) {
			response.ErrorJSON(c, http.StatusBadRequest, err.Error())
			return
		}
		logging.Errorf("Subscriber lookup failed - identity: %d, error: %v", identity, err)
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to load subscriber")
		return
	}
	if !found {
		response.ErrorJSON(c, http.StatusNotFound, "Subscriber not found")
		return
	}

	response.SuccessJSON(c, NewSubscriberStatusResponse(identity, rec, h.clock(), h.location()))
}
