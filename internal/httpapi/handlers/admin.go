package handlers

import (
	"net/http"
	"time"

	"github.com/aetherlab/ai-hub/internal/common"
	"github.com/aetherlab/ai-hub/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// GetUsage summarizes conversation volume from the append-only limit log.
func (h *Handler) GetUsage(c *gin.Context) {
	ctx := c.Request.Context()
	now := time.Now().UTC()

	repo := ratelimit.NewRepo(h.DB)

	hourConvs, hourMsgs, err := repo.UsageSince(ctx, now.Add(-time.Hour))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to aggregate usage")
		return
	}
	dayConvs, dayMsgs, err := repo.UsageSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to aggregate usage")
		return
	}
	weekConvs, weekMsgs, err := repo.UsageSince(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to aggregate usage")
		return
	}

	common.OK(c, gin.H{
		"hour": gin.H{"conversations": hourConvs, "messages": hourMsgs},
		"day":  gin.H{"conversations": dayConvs, "messages": dayMsgs},
		"week": gin.H{"conversations": weekConvs, "messages": weekMsgs},
	})
}
