package bootstrap

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/keymarket-backend/internal/balances"
	"github.com/angelmondragon/keymarket-backend/internal/catalog"
	"github.com/angelmondragon/keymarket-backend/internal/checkout"
	"github.com/angelmondragon/keymarket-backend/internal/inventory"
	"github.com/angelmondragon/keymarket-backend/internal/ledger"
	"github.com/angelmondragon/keymarket-backend/internal/orders"
	"github.com/angelmondragon/keymarket-backend/internal/payments"
	"github.com/angelmondragon/keymarket-backend/internal/webhooks"
	"github.com/angelmondragon/keymarket-backend/pkg/config"
	"github.com/angelmondragon/keymarket-backend/pkg/db"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
	"github.com/angelmondragon/keymarket-backend/pkg/metrics"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox"
	"github.com/angelmondragon/keymarket-backend/pkg/redis"
)

// Params are the process-level handles every binary already owns.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Redis    *redis.Client
	Registry prometheus.Registerer
}

// Services is the domain graph shared by the api and the cron worker.
type Services struct {
	Catalog       catalog.Service
	Inventory     inventory.Service
	Orders        orders.Service
	Balances      balances.Service
	Payments      *payments.Engine
	PaymentEvents *webhooks.Service
	Checkout      checkout.Service
	Outbox        *outbox.Service
	OutboxRepo    *outbox.Repository
}

// Build wires repositories and services over one database and redis client.
func Build(p Params) (*Services, error) {
	switch {
	case p.Config == nil:
		return nil, fmt.Errorf("config required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case p.DB == nil:
		return nil, fmt.Errorf("database client required")
	case p.Redis == nil:
		return nil, fmt.Errorf("redis client required")
	}
	reg := p.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	conn := p.DB.DB()
	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, p.Logger)

	catalogRepo := catalog.NewRepository(conn)
	catalogSvc, err := catalog.NewService(catalogRepo)
	if err != nil {
		return nil, fmt.Errorf("catalog service: %w", err)
	}

	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		Repo:        inventory.NewRepository(conn),
		TxRunner:    p.DB,
		Outbox:      emitter,
		Metrics:     metrics.NewAllocatorMetrics(reg),
		Logger:      p.Logger,
		ExpiryBatch: p.Config.Sweeper.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("inventory service: %w", err)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	balanceSvc, err := balances.NewService(balances.NewRepository(conn), ledgerSvc, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("balances service: %w", err)
	}

	settings, err := orders.SettingsFromConfig(p.Config.Commerce)
	if err != nil {
		return nil, fmt.Errorf("commerce settings: %w", err)
	}
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:        orders.NewRepository(conn),
		TxRunner:    p.DB,
		Catalog:     catalogSvc,
		Sales:       catalogRepo,
		Inventory:   inventorySvc,
		Earnings:    balanceSvc,
		Outbox:      emitter,
		Logger:      p.Logger,
		Settings:    settings,
		ExpireBatch: p.Config.Sweeper.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	gateway, err := payments.NewLocalGateway(p.Redis, p.Config.Payments.AddressMasterKey, p.Config.Payments.SimulatedTxTTL)
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}
	engine, err := payments.NewEngine(payments.EngineParams{
		Ledger:    orderSvc,
		Allocator: inventorySvc,
		Gateway:   gateway,
		Verifiers: map[payments.Source]payments.Verifier{
			payments.SourceWebhook:  payments.NewHMACVerifier(p.Config.Payments.WebhookSecret),
			payments.SourceInternal: payments.NewSharedSecretVerifier(p.Config.Payments.InternalAPIKey),
		},
		Anomalies:        payments.NewAnomalyRepository(conn),
		TxRunner:         p.DB,
		Outbox:           emitter,
		Metrics:          metrics.NewReconciliationMetrics(reg),
		Logger:           p.Logger,
		MinConfirmations: p.Config.Payments.MinConfirmations,
		Tolerance:        p.Config.Payments.Tolerance(),
	})
	if err != nil {
		return nil, fmt.Errorf("payment engine: %w", err)
	}

	guard, err := webhooks.NewIdempotencyGuard(p.Redis, p.Config.Payments.IdempotencyTTL, webhooks.PaymentTxScope)
	if err != nil {
		return nil, fmt.Errorf("payment idempotency guard: %w", err)
	}
	events, err := webhooks.NewService(webhooks.ServiceParams{
		Engine: engine,
		Guard:  guard,
		Logger: p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("payment event service: %w", err)
	}

	checkoutSvc, err := checkout.NewService(orderSvc, engine, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	return &Services{
		Catalog:       catalogSvc,
		Inventory:     inventorySvc,
		Orders:        orderSvc,
		Balances:      balanceSvc,
		Payments:      engine,
		PaymentEvents: events,
		Checkout:      checkoutSvc,
		Outbox:        emitter,
		OutboxRepo:    outboxRepo,
	}, nil
}
