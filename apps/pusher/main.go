package main

import (
	"context"
	"errors"
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
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mahaj/chat-relay/pkg/config"
	"github.com/mahaj/chat-relay/pkg/logging"
	"github.com/mahaj/chat-relay/pkg/metrics"
	"github.com/mahaj/chat-relay/pkg/push"
	"github.com/mahaj/chat-relay/pkg/web"
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
		log.Fatal("pusher stopped", zap.Error(err))
	}
}

// gateway picks the delivery backend for records drained from Kafka. Without FCM
// credentials notifications are only logged.
func gateway(cfg config.Config, log *zap.Logger) (push.Gateway, error) {
	if cfg.Push.FCM.CredentialsFile == "" {
		log.Warn("push.fcm.credentials_file not set, notifications are logged only")
		return push.NewLogGateway(log), nil
	}
	return push.OpenFCM(cfg.Push.FCM)
}

func run(cfg config.Config, log *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	gw, err := gateway(cfg, log)
	if err != nil {
		return err
	}

	worker := push.NewWorker(push.NewReader(cfg.Kafka.Brokers, cfg.Kafka.PushTopic, cfg.Kafka.GroupID), gw, log, m)
	defer func() { err = multierr.Append(err, worker.Close()) }()

	var ready atomic.Bool
	r := chi.NewRouter()
	web.MountAdmin(r, reg, &ready)
	srv := &http.Server{
		Addr:              cfg.Pusher.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("consuming push notifications",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.PushTopic),
			zap.String("group_id", cfg.Kafka.GroupID))
		return worker.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	ready.Store(true)

	return g.Wait()
}
