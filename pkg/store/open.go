package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/config"
	"github.com/mahaj/chat-relay/pkg/db"
	"github.com/mahaj/chat-relay/pkg/snowflake"
)

// Open connects the message store selected by cfg.Driver and runs its migrations.
func Open(ctx context.Context, cfg config.StoreConfig, nodeID int64, log *zap.Logger) (MessageStore, error) {
	var (
		s   MessageStore
		err error
	)
	switch cfg.Driver {
	case config.StoreMemory:
		s = NewMemoryStore()
	case config.StoreSQLite:
		s, err = NewSQLiteStore(cfg.SQLitePath)
	case config.StorePostgres:
		s, err = NewPostgresStore(ctx, cfg.PostgresURL)
	case config.StoreScylla:
		s, err = openScylla(cfg, nodeID)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	log.Info("message store ready", zap.String("driver", cfg.Driver))
	return s, nil
}

func openScylla(cfg config.StoreConfig, nodeID int64) (*ScyllaStore, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureKeyspace(cfg.ScyllaHosts, cfg.ScyllaKeyspace); err != nil {
		return nil, err
	}
	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		return nil, err
	}
	return NewScyllaStore(session, node), nil
}
