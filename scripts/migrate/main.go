package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/config"
	"github.com/mahaj/chat-relay/pkg/logging"
	"github.com/mahaj/chat-relay/pkg/store"
)

// migrate creates the message schema of the configured store driver.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("RELAY_CONFIG"))
	if err != nil {
		panic(err)
	}
	log, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Open runs the migration for every driver.
	messages, err := store.Open(context.Background(), cfg.Store, cfg.Snowflake.NodeID, log)
	if err != nil {
		log.Fatal("migration failed", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	if err := messages.Close(); err != nil {
		log.Warn("close store", zap.Error(err))
	}
	log.Info("schema is up to date", zap.String("driver", cfg.Store.Driver))
}
