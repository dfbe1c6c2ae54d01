package api

import (
	"net/http"
	"strings"

	"channel-gate/internal/response"
	"channel-gate/internal/services"
	"channel-gate/pkg/logging"

	"github.com/gin-gonic/gin"
)

const paymentReturnPage = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Payment received</title></head>
<body style="font-family: Arial, sans-serif; text-align: center; padding: 40px;">
<h3>Thanks! Check your Telegram for the invite link.</h3>
</body>
</html>`

// Pay starts a gateway checkout and redirects the subscriber to it
// GET /pay?tg=<telegram user id>
func (h *Handler) Pay(c *gin.Context) {
	identity, err := services.ParseIdentity(c.Query("tg"))
	if err != nil {
		response.Text(c, http.StatusBadRequest, "Invalid user")
		return
	}

	payURL, err := h.Checkout.Start(c.Request.Context(), identity)
	if err != nil {
		logging.Errorf("Failed to create payment - identity: %d, error: %v", identity, err)
		response.Text(c, http.StatusInternalServerError, "Failed to create payment, please try again later")
		return
	}

	c.Redirect(http.StatusFound, payURL)
}

// PaymentReturn is where the gateway sends the payer's browser
func (h *Handler) PaymentReturn(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(strings.TrimSpace(paymentReturnPage)))
}
