package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/config"
	kafkax "github.com/Farid-Ze/alfa-beauty-sub000/internal/kafka"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/notify"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/observability"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	service := cfg.ServiceName + "-notifier"
	logger := observability.NewLogger(service, cfg.Debug)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	d := &notify.Dispatcher{
		Redis:   rdb,
		Sender:  notify.LogSender{Logger: logger.Named("sender")},
		Service: service,
		Logger:  logger,
	}

	topics := notify.Topics()
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, topics, cfg.NotifierWorkers, logger.Named("consumer"))
	logger.Info("notifier consumer started",
		zap.String("group", cfg.NotifierGroup),
		zap.Strings("topics", topics),
		zap.Int("workers", cfg.NotifierWorkers))

	if err := cons.Start(ctx, d.Handle); err != nil {
		logger.Error("consumer exit", zap.Error(err))
		return
	}
	logger.Info("notifier stopped")
}
