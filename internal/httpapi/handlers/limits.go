package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/aetherlab/ai-hub/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// The conversation-limits endpoint speaks its own wire format (consumed by
// the widget as-is) rather than the service envelope.

type limitsReq struct {
	IPAddress    string `json:"ip_address" binding:"required"`
	UserEmail    string `json:"user_email"`
	UserName     string `json:"user_name"`
	Context      string `json:"context"`
	Action       string `json:"action" binding:"required"`
	SessionID    string `json:"session_id"`
	MessageCount *int   `json:"message_count"`
}

type limitsCheckResp struct {
	Allowed           bool             `json:"allowed"`
	Limits            ratelimit.Limits `json:"limits"`
	ResetTime         string           `json:"reset_time"`
	RestrictionReason *string          `json:"restriction_reason"`
	IsReturningUser   bool             `json:"is_returning_user"`
}

func checkResp(d ratelimit.Decision) limitsCheckResp {
	var reason *string
	if d.RestrictionReason != "" {
		reason = &d.RestrictionReason
	}
	return limitsCheckResp{
		Allowed:           d.Allowed,
		Limits:            d.Limits,
		ResetTime:         d.ResetTime.Format(time.RFC3339),
		RestrictionReason: reason,
		IsReturningUser:   d.IsReturningUser,
	}
}

func (h *Handler) ConversationLimits(c *gin.Context) {
	var req limitsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip_address and action are required"})
		return
	}

	ctx := c.Request.Context()

	switch req.Action {
	case "check":
		d, err := h.LimitSvc.Check(ctx, req.IPAddress, req.UserEmail)
		if err != nil {
			log.Printf("[limits] check failed ip=%s: %v", req.IPAddress, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "limit check failed"})
			return
		}
		c.JSON(http.StatusOK, checkResp(d))

	case "start":
		res, err := h.LimitSvc.Start(ctx, ratelimit.StartRequest{
			IPAddress: req.IPAddress,
			UserEmail: req.UserEmail,
			UserName:  req.UserName,
			Context:   req.Context,
		})
		if err != nil {
			log.Printf("[limits] start failed ip=%s: %v", req.IPAddress, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "limit check failed"})
			return
		}
		if !res.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"allowed":    false,
				"message":    res.RestrictionReason,
				"reset_time": res.ResetTime.Format(time.RFC3339),
				"limits":     res.Limits,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"allowed":    true,
			"session_id": res.SessionID,
			"message":    "conversation started",
		})

	case "message":
		if req.SessionID == "" || req.MessageCount == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and message_count are required"})
			return
		}
		h.LimitSvc.Message(ctx, req.SessionID, *req.MessageCount)
		c.JSON(http.StatusOK, gin.H{"success": true})

	case "end":
		if req.SessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
			return
		}
		h.LimitSvc.End(ctx, req.SessionID)
		c.JSON(http.StatusOK, gin.H{"success": true})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
	}
}
