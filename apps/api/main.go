package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/auth"
	"github.com/mahaj/chat-relay/pkg/config"
	"github.com/mahaj/chat-relay/pkg/db"
	"github.com/mahaj/chat-relay/pkg/logging"
	"github.com/mahaj/chat-relay/pkg/profile"
	"github.com/mahaj/chat-relay/pkg/store"
	"github.com/mahaj/chat-relay/pkg/web"
)

// API serves the request/response surface around the realtime gateway.
type API struct {
	profiles profile.Repository
	messages store.MessageStore
	redis    *redis.Client
	issuer   *auth.Issuer
	log      *zap.Logger
}

func NewAPI(profiles profile.Repository, messages store.MessageStore, rdb *redis.Client, issuer *auth.Issuer, log *zap.Logger) *API {
	return &API{
		profiles: profiles,
		messages: messages,
		redis:    rdb,
		issuer:   issuer,
		log:      log.Named("api"),
	}
}

func (a *API) Router(gatherer prometheus.Gatherer, ready *atomic.Bool) http.Handler {
	r := web.NewRouter(a.log)
	web.MountAdmin(r, gatherer, ready)

	// Public endpoint
	r.Post("/login", a.Login)

	// Protected endpoints
	r.Group(func(r chi.Router) {
		r.Use(a.issuer.Middleware)
		r.Get("/api/history", a.History)
		r.Post("/api/conversations", a.FindOrCreateConversation)
		r.Get("/api/presence", a.Presence)
		r.Post("/api/blocks", a.Block)
		r.Delete("/api/blocks/{id}", a.Unblock)
		r.Post("/api/interest", a.RecordInterest)
		r.Get("/api/interest", a.InterestedBy)
	})
	return r
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

	if err := run(cfg, log); err != nil {
		log.Fatal("api stopped", zap.Error(err))
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

	messages, err := store.Open(ctx, cfg.Store, cfg.Snowflake.NodeID, log)
	if err != nil {
		return err
	}
	closers = append(closers, messages)

	var (
		rdb      *redis.Client
		profiles profile.Repository = profile.NewMemoryStore()
	)
	if cfg.Redis.Addr != "" {
		rdb, err = db.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		closers = append(closers, rdb)
		profiles = profile.NewRedisStore(rdb)
	} else {
		log.Warn("redis.addr not set, profiles are process-local and presence listing is disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var ready atomic.Bool
	api := NewAPI(profiles, messages, rdb, auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), log)
	srv := &http.Server{
		Addr:              cfg.API.Address,
		Handler:           api.Router(reg, &ready),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	ready.Store(true)
	log.Info("api listening", zap.String("address", cfg.API.Address))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}

	ready.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("api stopped")
	return nil
}
