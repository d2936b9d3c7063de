// Package app wires configuration to concrete stores, brokers and services.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/egannguyen/stockledger/internal/config"
	"github.com/egannguyen/stockledger/internal/idempotency"
	"github.com/egannguyen/stockledger/internal/messaging"
	"github.com/egannguyen/stockledger/internal/messaging/kafka"
	"github.com/egannguyen/stockledger/internal/messaging/watermill"
	"github.com/egannguyen/stockledger/internal/repository"
	"github.com/egannguyen/stockledger/internal/repository/memory"
	"github.com/egannguyen/stockledger/internal/repository/postgres"
)

// Repositories groups the store and read repositories of one backend.
type Repositories struct {
	Store     repository.Store
	Products  repository.ProductRepository
	Orders    repository.OrderRepository
	Movements repository.StockMovementRepository
	Close     func() error
}

// OpenRepositories connects to the configured store.
func OpenRepositories(ctx context.Context, cfg *config.Config) (*Repositories, error) {
	switch cfg.Store {
	case config.StoreMemory:
		s := memory.New(cfg.LockTimeout)
		return &Repositories{
			Store:     s,
			Products:  s,
			Orders:    s,
			Movements: s,
			Close:     func() error { return nil },
		}, nil
	case config.StorePostgres, config.StorePGX:
		driver := postgres.DriverPQ
		if cfg.Store == config.StorePGX {
			driver = postgres.DriverPGX
		}
		db, err := postgres.InitDB(ctx, driver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &Repositories{
			Store:     postgres.NewStore(db, cfg.LockTimeout),
			Products:  postgres.NewProductRepository(db),
			Orders:    postgres.NewOrderRepository(db),
			Movements: postgres.NewStockMovementRepository(db),
			Close:     db.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// Broker is the configured publisher and, when the backend supports it, a
// subscriber.
type Broker struct {
	Publisher  messaging.Publisher
	Subscriber messaging.Subscriber
	Close      func() error
}

// OpenBroker creates the configured message broker.
func OpenBroker(cfg *config.Config, logger *slog.Logger) (*Broker, error) {
	switch cfg.Broker {
	case config.BrokerKafka:
		b := kafka.NewKafkaBroker(cfg.KafkaBrokers)
		return &Broker{Publisher: b, Subscriber: b, Close: b.Close}, nil
	case config.BrokerWatermill:
		b, err := watermill.NewKafkaBroker(cfg.KafkaBrokers, logger)
		if err != nil {
			return nil, err
		}
		return &Broker{Publisher: b, Subscriber: b, Close: b.Close}, nil
	case config.BrokerMemory:
		b := watermill.NewGoChannelBroker(logger)
		return &Broker{Publisher: b, Subscriber: b, Close: b.Close}, nil
	case config.BrokerLog:
		return &Broker{Publisher: messaging.LogPublisher{Logger: logger}, Close: func() error { return nil }}, nil
	}
	return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
}

// OpenIdempotency returns a Redis store when REDIS_URL is set and an
// in-memory store otherwise.
func OpenIdempotency(ctx context.Context, cfg *config.Config) (idempotency.Store, func() error, error) {
	if cfg.RedisURL == "" {
		return idempotency.NewMemoryStore(cfg.IdempotencyTTL, cfg.IdempotencyPendingTTL), func() error { return nil }, nil
	}
	client, err := idempotency.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return idempotency.NewRedisStore(client, cfg.IdempotencyTTL, cfg.IdempotencyPendingTTL), client.Close, nil
}
