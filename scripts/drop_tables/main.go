package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/config"
	"github.com/mahaj/chat-relay/pkg/db"
	"github.com/mahaj/chat-relay/pkg/logging"
)

const dropMessages = "DROP TABLE IF EXISTS messages"

func drop(ctx context.Context, cfg config.StoreConfig) error {
	switch cfg.Driver {
	case config.StoreMemory:
		return nil
	case config.StoreSQLite:
		conn, err := sql.Open("sqlite3", cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer conn.Close()
		_, err = conn.ExecContext(ctx, dropMessages)
		return err
	case config.StorePostgres:
		conn, err := pgx.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer conn.Close(ctx)
		_, err = conn.Exec(ctx, dropMessages)
		return err
	case config.StoreScylla:
		session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
		if err != nil {
			return err
		}
		defer session.Close()
		return session.Query(dropMessages).WithContext(ctx).Exec()
	}
	return fmt.Errorf("unknown store driver %q", cfg.Driver)
}

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

	log.Info("dropping table messages", zap.String("driver", cfg.Store.Driver))
	if err := drop(context.Background(), cfg.Store); err != nil {
		log.Fatal("failed to drop table", zap.Error(err))
	}
	log.Info("table dropped")
}
