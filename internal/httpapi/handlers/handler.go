package handlers

import (
	"context"
	"log"

	"github.com/aetherlab/ai-hub/internal/ai"
	"github.com/aetherlab/ai-hub/internal/chat"
	"github.com/aetherlab/ai-hub/internal/config"
	"github.com/aetherlab/ai-hub/internal/ratelimit"
	"github.com/aetherlab/ai-hub/internal/store/rabbitmq"
	"github.com/aetherlab/ai-hub/internal/store/redisstore"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Handler struct {
	DB       *gorm.DB
	Cfg      config.Config
	Redis    *redisstore.Store
	Rabbit   *rabbitmq.Publisher
	ChatSvc  *chat.Service
	LimitSvc *ratelimit.Service
}

// abuseTelemetry dedupes advisory abuse events through Redis before handing
// them to the queue.
type abuseTelemetry struct {
	redis  *redisstore.Store
	rabbit *rabbitmq.Publisher
}

func (t *abuseTelemetry) PublishAbuseEvent(ctx context.Context, ev ratelimit.AbuseEvent) error {
	if t.redis != nil {
		first, err := t.redis.FlagAbuse(ctx, ev.UserEmail)
		if err != nil {
			log.Printf("[telemetry] abuse flag dedupe failed email=%s: %v", ev.UserEmail, err)
		} else if !first {
			return nil
		}
	}
	if t.rabbit == nil {
		return nil
	}
	return t.rabbit.PublishTelemetry(ctx, ev)
}

func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store, rabbit *rabbitmq.Publisher) *Handler {
	limitSvc := ratelimit.NewService(
		ratelimit.NewRepo(db),
		rds,
		&abuseTelemetry{redis: rds, rabbit: rabbit},
	)
	chatSvc := chat.NewService(
		chat.NewRepo(db),
		ai.NewRegistryFromConfig(cfg),
		limitSvc,
		cfg.SmartRoutingEnabled,
		cfg.ChatContextWindowSize,
	)
	return &Handler{
		DB:       db,
		Cfg:      cfg,
		Redis:    rds,
		Rabbit:   rabbit,
		ChatSvc:  chatSvc,
		LimitSvc: limitSvc,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(200, gin.H{"message": "pong"})
}
