// Command convocart runs the conversational commerce engine: the HTTP API the
// storefront widget talks to, plus the order status consumer.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/convocart/convocart/cache"
	"github.com/convocart/convocart/catalog"
	"github.com/convocart/convocart/checkout"
	"github.com/convocart/convocart/convo"
	"github.com/convocart/convocart/core"
	"github.com/convocart/convocart/httpapi"
	"github.com/convocart/convocart/intent"
	"github.com/convocart/convocart/llm"
	"github.com/convocart/convocart/orders"
	"github.com/convocart/convocart/services"
	"github.com/convocart/convocart/session"
	"github.com/convocart/convocart/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "convocart: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := core.NewConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := core.NewProductionLogger(cfg.Logging, cfg.Name)

	var tel core.Telemetry = &core.NoOpTelemetry{}
	if cfg.Telemetry.Enabled {
		provider, err := telemetry.NewOTelProvider(cfg.Name, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("initialize telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Telemetry shutdown failed", map[string]interface{}{
					"operation": "shutdown",
					"error":     err.Error(),
				})
			}
		}()
		tel = provider
	}

	aggregator := services.NewAggregatorClient(cfg.Services.AggregatorURL, cfg.Services.Timeout, logger)
	payments := services.NewPaymentClient(cfg.Services.PaymentURL, cfg.Services.Timeout, logger)
	var geocoder httpapi.Geocoder
	if cfg.Services.GeocodeURL != "" {
		geocoder = services.NewGeocodeClient(cfg.Services.GeocodeURL, cfg.Services.Timeout, logger)
	}

	ai := llm.NewClient(cfg.AI, logger, tel)
	cacheSvc := cache.New(cfg.Cache.MaxEntries, logger)
	classifier := intent.NewClassifier(intent.DefaultConfig(), ai, cacheSvc, cfg.Cache, logger)
	resolver := catalog.NewResolver(aggregator, ai, cacheSvc, cfg.Cache, cfg.Catalog.MerchantRadiusKM, logger, tel)
	orchestrator := convo.NewOrchestrator(classifier, resolver, ai, ai, logger, tel)
	processor := checkout.NewProcessor(payments, cfg.Payments, logger)

	var sessions session.Manager
	if cfg.Session.Backend == "redis" {
		sessions, err = session.NewRedisManager(cfg.Session.RedisURL, cfg.Session.TTL, logger)
		if err != nil {
			return fmt.Errorf("connect session store: %w", err)
		}
	} else {
		sessions = session.NewMemoryManager(cfg.Session.TTL, logger)
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			logger.Warn("Session store close failed", map[string]interface{}{
				"operation": "shutdown",
				"error":     err.Error(),
			})
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := orders.NewStore(aggregator, logger)
	if cfg.OrderPush.Enabled {
		consumer := orders.NewConsumer(cfg.OrderPush, store, logger)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Order status consumer stopped", map[string]interface{}{
					"operation": "order_consume",
					"error":     err.Error(),
				})
			}
		}()
	}

	api := httpapi.NewServer(*cfg, sessions, orchestrator, resolver, processor, store, aggregator, geocoder, logger)
	// No WriteTimeout: the order stream endpoint holds its response open.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     api.Handler(),
		ReadTimeout: cfg.HTTP.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Engine listening", map[string]interface{}{
			"operation": "startup",
			"port":      cfg.Port,
			"sessions":  cfg.Session.Backend,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down", map[string]interface{}{"operation": "shutdown"})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
