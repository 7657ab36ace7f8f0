package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/auth"
	"github.com/mahaj/chat-relay/pkg/config"
	"github.com/mahaj/chat-relay/pkg/db"
	"github.com/mahaj/chat-relay/pkg/gate"
	"github.com/mahaj/chat-relay/pkg/logging"
	"github.com/mahaj/chat-relay/pkg/metrics"
	"github.com/mahaj/chat-relay/pkg/presence"
	"github.com/mahaj/chat-relay/pkg/profile"
	"github.com/mahaj/chat-relay/pkg/push"
	"github.com/mahaj/chat-relay/pkg/relay"
	"github.com/mahaj/chat-relay/pkg/store"
)

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

	if err := run(cfg, log); err != nil {
		log.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i].Close())
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	messages, err := store.Open(ctx, cfg.Store, cfg.Snowflake.NodeID, log)
	if err != nil {
		return err
	}
	closers = append(closers, messages)

	var (
		rdb      *redis.Client
		profiles profile.Store = profile.NewMemoryStore()
	)
	if cfg.Redis.Addr != "" {
		rdb, err = db.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		closers = append(closers, rdb)
		profiles = profile.NewRedisStore(rdb)
	} else {
		log.Warn("redis.addr not set, profiles are process-local and presence is not mirrored")
	}
	cached := profile.NewCached(profiles, cfg.Profiles.CacheSize, cfg.Profiles.CacheTTL)

	gateway, err := push.Open(cfg, log)
	if err != nil {
		return err
	}
	if c, ok := gateway.(io.Closer); ok {
		closers = append(closers, c)
	}

	// Actors outlive the signal context so in-flight operations finish during shutdown.
	actorCtx, stopActors := context.WithCancel(context.Background())
	defer stopActors()

	opts := presence.Options{
		Policy:  cfg.Presence.Policy,
		Mailbox: cfg.Presence.Mailbox,
		Metrics: m,
	}
	if rdb != nil {
		mirror := presence.NewRedisMirror(rdb, log)
		go mirror.Run(actorCtx)
		opts.Observer = mirror
	}
	directory := presence.NewDirectory(log, opts)
	go directory.Run(actorCtx)

	relays := relay.NewRegistry(actorCtx, relay.Deps{
		Store:     messages,
		Gate:      gate.New(cached, log),
		Directory: directory,
		Pusher:    push.NewDispatcher(profiles, gateway, log, m).WithNameCache(cached),
		Metrics:   m,
	}, log, cfg.Relay.IdleTimeout)

	hub := NewHub(actorCtx, directory, relays, auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), reg, log)
	srv := &http.Server{
		Addr:              cfg.Gateway.Address,
		Handler:           hub.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	hub.ready.Store(true)
	log.Info("gateway listening",
		zap.String("address", cfg.Gateway.Address),
		zap.String("store", cfg.Store.Driver),
		zap.String("push", cfg.Push.Mode),
		zap.String("presence_policy", cfg.Presence.Policy))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}

	log.Info("shutting down gateway")
	hub.ready.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	stopActors()
	relays.Wait()
	log.Info("gateway stopped")
	return nil
}
