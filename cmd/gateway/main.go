package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"PPRelay/global/config"
	"PPRelay/logger"
	"PPRelay/service/chat"
	"PPRelay/service/chat/handlers"
	"PPRelay/service/dispatch"
	"PPRelay/service/natsx"
	"PPRelay/service/presence"
	"PPRelay/service/relay"
	"PPRelay/service/storage"
	redisx "PPRelay/service/storage/redis"
	"PPRelay/tools/ids"
	"PPRelay/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	// 1) logging + ids
	logger.Init(cfg.LogLevel, cfg.IsProduction())
	defer logger.Sync()
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	ids.SetNodeID(cfg.NodeID)
	log := logger.Named("gateway").With(zap.String("gateway", cfg.GatewayID))

	// 2) registry + dispatch, owned here and shared by both endpoints
	registry := presence.NewRegistry()
	disp := dispatch.New(registry, logger.Named("dispatch"))

	// 3) client endpoint
	copts := chat.DefaultOptions()
	copts.GatewayID = cfg.GatewayID
	copts.MaxMessageBytes = cfg.MaxMessageBytes
	copts.SendQueueSize = cfg.SendQueueSize
	copts.PingInterval = cfg.PingInterval
	copts.UnauthTTL = cfg.UnauthTTL
	copts.AllowedOrigins = cfg.AllowedOrigins
	copts.PublicURL = cfg.PublicWsURL()
	copts.Logger = logger.Named("chat")
	chatSrv := chat.NewServer(registry, copts)
	handlers.RegisterDefaults(chatSrv)

	// 4) relay endpoint
	relaySrv := relay.NewServer(disp, registry, relay.Options{
		GatewayID:       cfg.GatewayID,
		MaxMessageBytes: cfg.MaxMessageBytes,
		Logger:          logger.Named("relay"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 5) optional cluster pieces
	rdb := setupRedis(ctx, cfg, registry, chatSrv, relaySrv, log)
	nc := setupNats(cfg, disp, log)

	// 6) listeners; a bind failure ends the process
	if err := chatSrv.Start(cfg.WsAddr()); err != nil {
		logger.Fatal("client endpoint", zap.Error(err))
	}
	if err := relaySrv.Start(cfg.RelayAddr()); err != nil {
		logger.Fatal("relay endpoint", zap.Error(err))
	}
	log.Info("gateway ready",
		zap.String("ws", cfg.WsAddr()),
		zap.String("public", cfg.PublicWsURL()),
		zap.String("relay", cfg.RelayAddr()))

	<-ctx.Done()
	log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := relaySrv.Shutdown(sctx); err != nil {
		log.Warn("relay shutdown", zap.Error(err))
	}
	if err := chatSrv.Shutdown(sctx); err != nil {
		log.Warn("client shutdown", zap.Error(err))
	}
	if nc != nil {
		_ = nc.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}

// setupRedis mirrors presence into Redis when REDIS_ADDR is set. Failing to
// reach Redis only disables the mirror.
func setupRedis(ctx context.Context, cfg *config.AppConfig, registry *presence.Registry,
	chatSrv *chat.Server, relaySrv *relay.Server, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb, err := redisx.NewClient(ctx, redisx.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Warn("redis unavailable, presence mirror disabled", zap.Error(err))
		return nil
	}
	mirror := storage.NewRedisPresence(rdb, cfg.GatewayID, cfg.PresenceTTL)
	chatSrv.SetMirror(mirror)
	relaySrv.SetLookup(mirror)

	// renew at half the TTL so live bindings never expire
	every := cfg.PresenceTTL / 2
	if every < time.Second {
		every = time.Second
	}
	safe.Go("presence-refresh", func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				entries := registry.Snapshot()
				users := make([]string, 0, len(entries))
				for _, e := range entries {
					users = append(users, e.UserID)
				}
				if err := mirror.Refresh(ctx, users); err != nil {
					log.Warn("presence refresh", zap.Error(err))
				}
			}
		}
	})
	log.Info("presence mirror enabled", zap.String("redis", cfg.RedisAddr), zap.Duration("ttl", cfg.PresenceTTL))
	return rdb
}

// setupNats subscribes the relay bridge when NATS_URL is set.
func setupNats(cfg *config.AppConfig, disp *dispatch.Dispatcher, log *zap.Logger) *natsx.Client {
	if cfg.NatsURL == "" {
		return nil
	}
	nc, err := natsx.Connect(natsx.Config{
		Servers: []string{cfg.NatsURL},
		Name:    cfg.GatewayID,
		Logger:  logger.Named("nats"),
	})
	if err != nil {
		log.Warn("nats unavailable, relay bridge disabled", zap.Error(err))
		return nil
	}
	if err := natsx.NewBridge(nc, cfg.NatsSubject, disp, logger.Named("nats-bridge")).Start(); err != nil {
		log.Warn("relay bridge subscribe", zap.Error(err))
		_ = nc.Close()
		return nil
	}
	return nc
}
