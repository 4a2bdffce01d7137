package httpapi

import (
	"net/http"

	"github.com/aetherlab/ai-hub/internal/common"
	"github.com/aetherlab/ai-hub/internal/config"
	"github.com/aetherlab/ai-hub/internal/httpapi/handlers"
	"github.com/aetherlab/ai-hub/internal/httpapi/middleware"
	"github.com/aetherlab/ai-hub/internal/store/rabbitmq"
	"github.com/aetherlab/ai-hub/internal/store/redisstore"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, rabbit *rabbitmq.Publisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rds, rabbit)

	r.GET("/ping", h.Ping)

	// conversation limiter (widget-facing, own wire format)
	r.POST("/v1/conversation-limits", h.ConversationLimits)

	// chat (anonymous, quota-gated at session create)
	r.POST("/v1/chat/sessions", h.CreateChatSession)
	r.POST("/v1/chat/messages", h.SendChatMessage)
	r.POST("/v1/chat/messages/stream", h.SendChatMessageStream)
	r.POST("/v1/chat/messages/async", h.SendChatMessageAsync)
	r.GET("/v1/chat/jobs/:job_id", h.GetChatJob)
	r.GET("/v1/chat/sessions/:session_id/messages", h.ListChatMessages)
	r.POST("/v1/chat/sessions/:session_id/end", h.EndChatSession)

	// operators
	r.POST("/v1/operators", h.CreateOperator)
	r.POST("/v1/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.GET("/admin/usage", h.GetUsage)

	return r
}
