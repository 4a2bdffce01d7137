package main

import (
	"context"
	"log"
	"time"

	"github.com/aetherlab/ai-hub/internal/chat"
	"github.com/aetherlab/ai-hub/internal/config"
	"github.com/aetherlab/ai-hub/internal/db"
	"github.com/aetherlab/ai-hub/internal/httpapi"
	"github.com/aetherlab/ai-hub/internal/models"
	"github.com/aetherlab/ai-hub/internal/ratelimit"
	"github.com/aetherlab/ai-hub/internal/store/rabbitmq"
	"github.com/aetherlab/ai-hub/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	if err := gdb.AutoMigrate(
		&models.Operator{},
		&chat.Session{}, &chat.Message{}, &chat.Job{},
		&ratelimit.ConversationSession{}, &ratelimit.ConversationLog{},
	); err != nil {
		log.Fatalf("automigrate: %v", err)
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Printf("redis ping failed (continuing, markers degrade to db): %v", err)
	}
	cancel()

	rabbit, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer rabbit.Close()

	r := httpapi.NewRouter(gdb, cfg, rds, rabbit)

	log.Printf("server listening on %s", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
