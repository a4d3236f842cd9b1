// README: Entry point; loads config, wires services, starts the HTTP server and background workers.
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

	"go.uber.org/zap"

	"sokuhai/internal/config"
	httptransport "sokuhai/internal/http"
	"sokuhai/internal/infra"
	"sokuhai/internal/maps"
	"sokuhai/internal/metrics"
	"sokuhai/internal/modules/dispatch"
	"sokuhai/internal/modules/order"
	"sokuhai/internal/modules/pricing"
	"sokuhai/internal/modules/quote"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := infra.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	var (
		tariffs pricing.TariffStore
		orders  order.Repository
	)
	if cfg.DB.DSN != "" {
		dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("database init", zap.Error(err))
		}
		defer dbPool.Close()
		tariffs = pricing.NewStore(dbPool)
		orders = order.NewStore(dbPool)
	} else {
		logger.Warn("no database configured; tariffs and orders are kept in memory")
		tariffs = pricing.NewMemoryTariffStore(pricing.DefaultTariffs()...)
		orders = order.NewMemoryStore()
	}

	routeSvc, err := maps.NewRouteService(cfg.Maps.APIKey)
	if err != nil {
		logger.Fatal("maps init", zap.Error(err))
	}
	routes := maps.NewCachedRouteService(routeSvc, redisClient, cfg.Maps.CacheTTL, logger.Named("routes"))

	calc := pricing.Calculator{Strict: cfg.Pricing.StrictInvariants, Logger: logger.Named("pricing")}
	pricingSvc := pricing.NewService(tariffs, routes, calc)

	var publisher order.EventPublisher = order.NopPublisher{}
	if w := infra.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.OrderTopic); w != nil {
		defer w.Close()
		publisher = order.NewKafkaPublisher(w)
	}
	orderSvc := order.NewService(orders, pricingSvc, publisher, logger.Named("orders"))

	dispatchSvc := dispatch.NewService(dispatch.NewStore(redisClient), cfg.Dispatch, logger.Named("dispatch"))
	orderSvc.SetDispatcher(dispatchSvc)

	quotes := quote.NewRegistry(pricingSvc, cfg.Quote, logger.Named("quotes"))
	go quotes.RunJanitor(ctx)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Order:       orderSvc,
		Dispatch:    dispatchSvc,
		Pricing:     pricingSvc,
		Quotes:      quotes,
		Logger:      logger.Named("http"),
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server", zap.Error(err))
	}
}
