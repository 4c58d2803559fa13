package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/api"
	"github.com/fathima-sithara/conversation-service/internal/auth"
	"github.com/fathima-sithara/conversation-service/internal/cache"
	"github.com/fathima-sithara/conversation-service/internal/config"
	"github.com/fathima-sithara/conversation-service/internal/discovery"
	"github.com/fathima-sithara/conversation-service/internal/events"
	"github.com/fathima-sithara/conversation-service/internal/gateway"
	"github.com/fathima-sithara/conversation-service/internal/logger"
	"github.com/fathima-sithara/conversation-service/internal/metrics"
	"github.com/fathima-sithara/conversation-service/internal/presence"
	"github.com/fathima-sithara/conversation-service/internal/repository"
	"github.com/fathima-sithara/conversation-service/internal/service"
)

type stores struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	unread        repository.UnreadRepository
	health        api.HealthCheck
	close         func(ctx context.Context)
}

func openStores(ctx context.Context, cfg *config.Config, lg *zap.Logger) (*stores, error) {
	if cfg.Store.Driver == "memory" {
		lg.Warn("using in-memory store, data is lost on restart")
		return &stores{
			conversations: repository.NewMemoryConversationRepository(),
			messages:      repository.NewMemoryMessageRepository(),
			unread:        repository.NewMemoryUnreadRepository(),
			health:        func(context.Context) error { return nil },
			close:         func(context.Context) {},
		}, nil
	}

	mc, err := repository.NewMongoClient(ctx, cfg.Mongo.URI, 30*time.Second, lg)
	if err != nil {
		return nil, err
	}
	db := mc.Database(cfg.Mongo.Database)
	ictx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := repository.EnsureIndexes(ictx, db); err != nil {
		_ = mc.Disconnect(context.Background())
		return nil, err
	}
	return &stores{
		conversations: repository.NewMongoConversationRepository(db),
		messages:      repository.NewMongoMessageRepository(db),
		unread:        repository.NewMongoUnreadRepository(db),
		health:        func(ctx context.Context) error { return mc.Ping(ctx, nil) },
		close:         func(ctx context.Context) { _ = mc.Disconnect(ctx) },
	}, nil
}

func connectRedis(ctx context.Context, cfg *config.Config, lg *zap.Logger) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	rdb, err := cache.NewClient(ctx, cfg.Redis, 15*time.Second, lg)
	if err != nil {
		lg.Warn("redis unavailable, presence is process-local and rate limiting is off", zap.Error(err))
		return nil
	}
	return rdb
}

func main() {
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	lg, err := logger.New(cfg.App.Development())
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jv, err := auth.New(cfg.JWT.Algorithm, cfg.JWT.Secret, cfg.JWT.PublicKeyPath)
	if err != nil {
		lg.Fatal("jwt validator init", zap.Error(err))
	}

	st, err := openStores(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("store init", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var publisher service.EventPublisher
	var producer *events.Producer
	var consumer *events.Consumer
	if cfg.Kafka.Enabled {
		producer = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Breaker, lg)
		go producer.Run(ctx)
		publisher = producer
		consumer = events.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.GroupID, lg)
	}

	unread := service.NewUnreadTracker(st.unread, cfg.StoreTimeout)
	registry := service.NewConversationRegistry(st.conversations, unread, cfg.StoreTimeout, lg)
	msgs := service.NewMessageService(st.messages, nil, cfg.Store.MaxContentLength, cfg.StoreTimeout)
	chat := service.NewChatService(registry, msgs, unread, publisher, m, lg)

	hub := presence.NewHub(m, lg)

	health := map[string]api.HealthCheck{"store": st.health}
	var (
		limiter  *api.RateLimiter
		recorder gateway.PresenceRecorder
		lookup   api.PresenceLookup
	)
	rdb := connectRedis(ctx, cfg, lg)
	if rdb != nil {
		presenceStore := cache.NewPresenceStore(rdb, cfg.Redis.Prefix, time.Duration(cfg.Redis.PresenceTTLSeconds)*time.Second)
		recorder, lookup = presenceStore, presenceStore
		health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		if cfg.RateLimit.Enabled {
			limiter = api.NewRateLimiter(rdb, cfg.Redis.Prefix, cfg.RateLimit.Requests,
				time.Duration(cfg.RateLimit.WindowSeconds)*time.Second, lg)
		}
	}

	gw := gateway.New(chat, hub, recorder, gateway.Options{
		PingInterval:   cfg.PingInterval,
		WriteDeadline:  cfg.WriteDeadline,
		MaxMessageSize: cfg.WS.MaxMessageSizeBytes,
		SendBuffer:     cfg.WS.SendBuffer,
		RatePerSecond:  cfg.WS.RatePerSecond,
		RateBurst:      cfg.WS.RateBurst,
		EventTimeout:   cfg.StoreTimeout * 2,
	}, m, lg)

	if consumer != nil {
		go func() {
			err := consumer.Run(ctx, func(ctx context.Context, n events.Notification) {
				gw.DeliverNotification(ctx, n.UserID, n.Payload)
			})
			if err != nil {
				lg.Error("notification consumer stopped", zap.Error(err))
			}
		}()
	}

	app := api.NewServer(api.Deps{
		Chat:           chat,
		Broadcast:      gw,
		Validator:      jv,
		Presence:       lookup,
		Local:          hub,
		Limiter:        limiter,
		WS:             gw,
		Metrics:        m,
		Health:         health,
		Log:            lg,
		RequestTimeout: cfg.StoreTimeout * 2,
	})

	registrar, err := discovery.NewRegistrar(cfg, lg)
	if err != nil {
		lg.Fatal("discovery init", zap.Error(err))
	}

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.PortString()
		lg.Info("starting conversation service", zap.String("addr", addr), zap.String("store", cfg.Store.Driver))
		errs <- app.Listen(addr)
	}()
	if err := registrar.Register(ctx); err != nil {
		lg.Warn("service registration failed", zap.Error(err))
	}

	select {
	case err := <-errs:
		lg.Error("server error", zap.Error(err))
	case <-ctx.Done():
		lg.Info("shutdown signal received")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := registrar.Deregister(shutdownCtx); err != nil {
		lg.Warn("service deregistration failed", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		lg.Warn("fiber shutdown", zap.Error(err))
	}
	if consumer != nil {
		_ = consumer.Close()
	}
	if producer != nil {
		if err := producer.Close(shutdownCtx); err != nil {
			lg.Warn("kafka producer close", zap.Error(err))
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	st.close(shutdownCtx)
	lg.Info("conversation service stopped")
}
