package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/audit"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/config"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/httpx"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/inventory"
	kafkax "github.com/Farid-Ze/alfa-beauty-sub000/internal/kafka"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/memstore"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/notify"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/observability"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/orders"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/postgres"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/pricing"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/redisx"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/returns"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := observability.NewLogger(cfg.ServiceName, cfg.Debug)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("tracing setup", zap.Error(err))
	}

	db, closeDB, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeDB()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer runs on its own context so in-flight notifications flush after
	// the HTTP server has drained.
	prodCtx, cancelProd := context.WithCancel(context.Background())
	defer cancelProd()
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("producer"))
	prod.Start(prodCtx)

	mode, err := pricing.ParseMode(cfg.PriceRuleScope)
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	notifier := &notify.KafkaNotifier{Producer: prod, Service: cfg.ServiceName, Logger: logger.Named("notify")}
	auditLog := &audit.Log{Sink: db, Logger: logger.Named("audit")}
	resolver := &pricing.Resolver{
		DB:       db,
		Cache:    &pricing.RedisCache{Client: rdb},
		CacheTTL: cfg.PriceCacheTTL,
		Mode:     mode,
		Logger:   logger.Named("pricing"),
	}
	allocator := &inventory.Allocator{
		DB:               db,
		Logger:           logger.Named("inventory"),
		NearExpiryWindow: cfg.NearExpiryWindow,
	}
	orderSvc := &orders.Service{
		DB:        db,
		Pricing:   resolver,
		Inventory: allocator,
		Audit:     auditLog,
		Notifier:  notifier,
		Logger:    logger.Named("orders"),
	}
	returnSvc := &returns.Service{
		DB:              db,
		Inventory:       allocator,
		Audit:           auditLog,
		Logger:          logger.Named("returns"),
		LoyaltyReversal: cfg.LoyaltyReversal,
		SpendReversal:   cfg.SpendReversal,
	}

	router := httpx.NewRouter()
	(&httpx.OrdersHandler{
		Orders:         orderSvc,
		DB:             db,
		Redis:          rdb,
		WhatsAppNumber: cfg.WhatsAppNumber,
		Logger:         logger,
	}).Register(router)
	(&httpx.CatalogHandler{Pricing: resolver, Inventory: allocator, Logger: logger}).Register(router)
	(&httpx.ReturnsHandler{Returns: returnSvc, DB: db, Logger: logger}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", zap.Error(err))
	}

	prod.Close() // close inbox so the writer flushes
	cancelProd()
	prod.WaitClosed()

	tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(tctx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		return memstore.New(), func() {}, nil
	default:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil
	}
}
