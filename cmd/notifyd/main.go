// notifyd is a sample backend: it accepts POST /notify and forwards each
// command to the gateway over the relay connection, or over NATS when
// NATS_URL is set.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"PPRelay/global/config"
	"PPRelay/logger"
	"PPRelay/service/natsx"
	"PPRelay/service/notify"
	"PPRelay/service/relayclient"
	"PPRelay/tools/safe"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	logger.Init(cfg.LogLevel, cfg.IsProduction())
	defer logger.Sync()
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	log := logger.Named("notifyd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var out notify.Deliverer
	if cfg.NatsURL != "" {
		nc, err := natsx.Connect(natsx.Config{
			Servers: []string{cfg.NatsURL},
			Name:    "notifyd",
			Logger:  logger.Named("nats"),
		})
		if err != nil {
			logger.Fatal("nats connect", zap.Error(err))
		}
		defer nc.Close()
		out = natsx.NewPublisher(nc, cfg.NatsSubject)
		log.Info("forwarding over nats", zap.String("subject", cfg.NatsSubject))
	} else {
		rc := relayclient.DefaultConfig(cfg.RelayURL)
		rc.RetryDelay = cfg.RelayRetryDelay
		rc.QueueSize = cfg.RelayQueueSize
		rc.Logger = logger.Named("relay-client")
		client := relayclient.New(rc)
		safe.Go("relay-client", func() { _ = client.Run(ctx) })
		defer client.Close()
		out = client
		log.Info("forwarding over relay", zap.String("url", cfg.RelayURL))
	}

	srv := &http.Server{
		Addr:              cfg.NotifyAddr(),
		Handler:           notify.New(out, logger.Named("notify")).Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	safe.Go("notify-http", func() {
		log.Info("notify listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("notify listen", zap.Error(err))
		}
	})

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	log.Info("notifyd stopped")
}
