package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/assistant"
	"github.com/ageniuscoder/codecollab/backend/internal/cache"
	"github.com/ageniuscoder/codecollab/backend/internal/chat"
	"github.com/ageniuscoder/codecollab/backend/internal/config"
	"github.com/ageniuscoder/codecollab/backend/internal/events"
	"github.com/ageniuscoder/codecollab/backend/internal/messages"
	"github.com/ageniuscoder/codecollab/backend/internal/presence"
	"github.com/ageniuscoder/codecollab/backend/internal/rooms"
	"github.com/ageniuscoder/codecollab/backend/internal/server"
	"github.com/ageniuscoder/codecollab/backend/internal/storage"
	"github.com/ageniuscoder/codecollab/backend/internal/storage/postgres"
	"github.com/ageniuscoder/codecollab/backend/internal/storage/sqlite"
	"github.com/ageniuscoder/codecollab/backend/internal/storage/sqlstore"
	"github.com/ageniuscoder/codecollab/backend/internal/typing"
)

func main() {
	migrate := flag.Bool("migrate", false, "run migrations and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}

	logger, err := newLogger(cfg.LogDev)
	if err != nil {
		log.Fatalf("zap logger: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	store, err := openStore(cfg, sugar)
	if err != nil {
		sugar.Fatalf("Cannot open %s store: %v", cfg.StorageDriver, err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = store.Migrate(ctx)
	cancel()
	if err != nil {
		sugar.Fatalf("Migration failed: %v", err)
	}
	if *migrate {
		sugar.Info("Migration completed")
		return
	}

	registry := presence.NewRegistry()
	router := rooms.NewRouter(sugar)
	coordinator := typing.New(sugar, router, cfg.TypingWindow)
	defer coordinator.Close()

	pipeline := messages.NewPipeline(store, router, sugar)
	pipeline.SetResponder(assistant.New(store, pipeline, storage.SystemUser{
		Email:  cfg.AssistantEmail,
		Name:   cfg.AssistantName,
		Avatar: cfg.AssistantAvatar,
	}, sugar))

	hub := chat.NewHub(sugar, store, registry, router, coordinator, pipeline)

	srv, err := server.NewServer(sugar, cfg, server.Components{
		Store:    store,
		Registry: registry,
		Hub:      hub,
		Pipeline: pipeline,
	})
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if cfg.RedisURL != "" {
		rp, err := cache.NewRedisPresence(cfg.RedisURL, cfg.RedisKey)
		if err != nil {
			sugar.Fatalf("Cannot connect to redis: %v", err)
		}
		mirror := cache.NewMirror(rp, sugar)
		registry.Subscribe(mirror.Observe)
		srv.RegisterAfterShutdown(func() {
			mirror.Close()
			_ = rp.Close()
		})
		sugar.Infof("Mirroring presence to redis key %q", cfg.RedisKey)
	}

	if cfg.AMQPURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		pub, err := events.New(ctx, cfg.AMQPURL, cfg.AMQPExchange, sugar)
		cancel()
		if err != nil {
			sugar.Fatalf("Cannot connect to rabbitmq: %v", err)
		}
		sink := events.NewMessageSink(pub, sugar)
		pipeline.SetEventSink(sink)
		srv.RegisterAfterShutdown(func() {
			if err := sink.Close(); err != nil {
				sugar.Errorf("closing event sink: %v", err)
			}
		})
		sugar.Infof("Publishing message events to exchange %q", cfg.AMQPExchange)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(cfg config.Config, logger *zap.SugaredLogger) (*sqlstore.Store, error) {
	if cfg.StorageDriver == "postgres" {
		return postgres.New(cfg.PostgresDsn, logger)
	}
	return sqlite.New(cfg.SQLITEDsn, logger)
}
