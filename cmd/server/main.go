package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/egannguyen/stockledger/internal/app"
	"github.com/egannguyen/stockledger/internal/config"
	deliveryhttp "github.com/egannguyen/stockledger/internal/delivery/http"
	"github.com/egannguyen/stockledger/internal/entity"
	"github.com/egannguyen/stockledger/internal/invoice"
	"github.com/egannguyen/stockledger/internal/metrics"
	"github.com/egannguyen/stockledger/internal/service"
)

const lowStockGroupID = "stockledger-low-stock"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("Server failed", "err", err)
		os.Exit(1)
	}
	slog.Info("Server exited properly")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// --- Storage ---
	repos, err := app.OpenRepositories(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer repos.Close()

	if cfg.SeedCatalog {
		if err := repos.Products.Seed(ctx, service.DemoCatalog()); err != nil {
			return fmt.Errorf("failed to seed products: %w", err)
		}
	}

	// --- Messaging ---
	broker, err := app.OpenBroker(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open broker: %w", err)
	}
	defer broker.Close()

	idem, closeIdem, err := app.OpenIdempotency(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open idempotency store: %w", err)
	}
	defer closeIdem()

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// --- Services ---
	opts := service.Options{
		Topics: service.Topics{
			OrdersPlaced: cfg.TopicOrdersPlaced,
			LowStock:     cfg.TopicLowStock,
		},
		LowStockThreshold: cfg.LowStockThreshold,
		Metrics:           metrics.New(reg),
		Idempotency:       idem,
	}
	renderer := invoice.NewJSONRenderer(invoice.Payee{Name: cfg.PayeeName, IBAN: cfg.PayeeIBAN, BIC: cfg.PayeeBIC})
	orderSvc := service.NewOrderService(repos.Store, repos.Orders, broker.Publisher, renderer, opts)
	inventorySvc := service.NewInventoryService(repos.Store, repos.Products, repos.Movements, broker.Publisher, opts)

	if broker.Subscriber != nil {
		go broker.Subscriber.Consume(ctx, cfg.TopicLowStock, lowStockGroupID, handleLowStock)
	}

	// --- HTTP API ---
	h := deliveryhttp.NewHandler(orderSvc, inventorySvc)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(cfg.CORSOrigin, metrics.Handler(reg)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "addr", cfg.HTTPAddr, "store", cfg.Store, "broker", cfg.Broker)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	slog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func handleLowStock(ctx context.Context, payload []byte) error {
	var ev entity.LowStockDetected
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal LowStockDetected: %w", err)
	}
	slog.InfoContext(ctx, "Low stock alert received",
		"product_id", ev.ProductID, "level", ev.Level, "quantity", ev.Quantity, "threshold", ev.Threshold)
	return nil
}
