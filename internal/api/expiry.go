package api

import (
	"context"
	"net/http"

	"channel-gate/pkg/logging"

	"github.com/gin-gonic/gin"
)

// RunExpiry runs a sweep on demand
// GET|POST /run-expiry with X-CRON-SECRET
func (h *Handler) RunExpiry(c *gin.Context) {
	// A sweep outlives an impatient caller.
	report, err := h.Sweeps.RunNow(context.WithoutCancel(c.Request.Context()))
	ts := h.clock().Unix()
	if err != nil {
		logging.Errorf("Manual sweep failed - run_id: %s, error: %v", report.RunID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"ran":    false,
			"ts":     ts,
			"report": report,
			"error":  "sweep failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ran":    !report.Skipped,
		"ts":     ts,
		"report": report,
	})
}
