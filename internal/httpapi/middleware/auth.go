package middleware

import (
	"net/http"
	"strings"

	"github.com/aetherlab/ai-hub/internal/auth"
	"github.com/aetherlab/ai-hub/internal/common"
	"github.com/gin-gonic/gin"
)

const OperatorIDKey = "operator_id"

// AuthRequired rejects requests without a valid Bearer token.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}

		claims, err := auth.ParseJWT(strings.TrimPrefix(header, "Bearer "), secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}

		c.Set(OperatorIDKey, claims.OperatorID)
		c.Next()
	}
}
