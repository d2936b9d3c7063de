// Command inventory-check scans the catalog once and publishes a
// LowStockDetected event for every product at or below its threshold.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/egannguyen/stockledger/internal/app"
	"github.com/egannguyen/stockledger/internal/config"
	"github.com/egannguyen/stockledger/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	threshold := flag.Int("threshold", cfg.LowStockThreshold, "default low stock threshold for products without their own")
	flag.Parse()
	cfg.LowStockThreshold = *threshold

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Inventory check failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	repos, err := app.OpenRepositories(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer repos.Close()

	broker, err := app.OpenBroker(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open broker: %w", err)
	}
	defer broker.Close()

	svc := service.NewInventoryService(repos.Store, repos.Products, repos.Movements, broker.Publisher, service.Options{
		Topics:            service.Topics{LowStock: cfg.TopicLowStock},
		LowStockThreshold: cfg.LowStockThreshold,
	})

	alerts, err := svc.CheckLevels(ctx)
	if err != nil {
		return err
	}
	for _, a := range alerts {
		fmt.Println(a.Message)
	}
	if len(alerts) == 0 {
		fmt.Println("All products are above their low stock threshold.")
	}
	return nil
}
