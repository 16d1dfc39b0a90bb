package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/keymarket-backend/api/controllers"
	admincontrollers "github.com/angelmondragon/keymarket-backend/api/controllers/admin"
	ordercontrollers "github.com/angelmondragon/keymarket-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/keymarket-backend/api/controllers/payments"
	sellercontrollers "github.com/angelmondragon/keymarket-backend/api/controllers/seller"
	"github.com/angelmondragon/keymarket-backend/api/middleware"
	"github.com/angelmondragon/keymarket-backend/internal/checkout"
	"github.com/angelmondragon/keymarket-backend/internal/inventory"
	internalorders "github.com/angelmondragon/keymarket-backend/internal/orders"
	"github.com/angelmondragon/keymarket-backend/internal/payments"
	"github.com/angelmondragon/keymarket-backend/pkg/config"
	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
	"github.com/angelmondragon/keymarket-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/keymarket-backend/pkg/redis"
)

// RedisStore is the redis surface the edge middleware needs.
type RedisStore interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

// OrderService is the ledger surface mounted on the API.
type OrderService interface {
	ordercontrollers.Reader
	admincontrollers.DisputeDesk
	RequestRefund(ctx context.Context, input internalorders.RefundRequestInput) (*models.Order, error)
}

// PaymentService is the reconciliation engine surface mounted on the API.
type PaymentService interface {
	PaymentDetails(ctx context.Context, ref string) (*payments.PaymentDetails, error)
	SimulatePayment(ctx context.Context, orderID uuid.UUID) (*payments.Result, error)
}

type ProductService interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetSellerProduct(ctx context.Context, productID, sellerID uuid.UUID) (*models.Product, error)
}

type KeyService interface {
	BulkAdd(ctx context.Context, input inventory.BulkAddInput) (*inventory.BulkAddResult, error)
	StockCount(ctx context.Context, productID uuid.UUID) (int64, error)
}

type Params struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             controllers.Pinger
	Redis          RedisStore
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler
	Checkout       checkout.Service
	Orders         OrderService
	Payments       PaymentService
	PaymentEvents  ordercontrollers.PaymentHandler
	Catalog        ProductService
	Inventory      KeyService
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(p.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	orderPolicy := middleware.NewRateLimitPolicy(
		"orders",
		cfg.RateLimit.OrderWindow,
		cfg.RateLimit.OrderIPLimit,
		cfg.RateLimit.OrderEmailLimit,
	)

	metricsHandler := p.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    p.DB,
			"redis": p.Redis,
		}))
	})
	r.Handle("/metrics", metricsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.With(
				middleware.OptionalAuth(cfg.JWT, logg),
				middleware.RateLimit(orderPolicy, p.Redis, logg),
				middleware.Idempotency(p.Redis, logg),
			).Post("/", ordercontrollers.Create(p.Checkout, logg))
			r.Post("/process-payment", ordercontrollers.ProcessPayment(p.PaymentEvents, logg))
			r.Get("/{id}/payment-status", ordercontrollers.PaymentStatus(p.Orders, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(cfg.JWT, logg))
				r.Get("/{id}", ordercontrollers.Detail(p.Orders, logg))
				r.With(
					middleware.RequireRole(logg, enums.RoleBuyer),
					middleware.Idempotency(p.Redis, logg),
				).Post("/{id}/refund", ordercontrollers.RequestRefund(p.Orders, logg))
			})
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/order/{orderId}", paymentcontrollers.Details(p.Payments, logg))
			r.Post("/webhook", paymentcontrollers.Webhook(p.PaymentEvents, logg))
			if cfg.FeatureFlags.SimulatedPayments && !cfg.App.IsProd() {
				r.Post("/simulate", paymentcontrollers.Simulate(p.Orders, p.Payments, logg))
			}
		})

		r.Route("/seller", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RequireRole(logg, enums.RoleSeller, enums.RoleAdmin))
			r.Use(middleware.Idempotency(p.Redis, logg))
			r.Route("/products/{productId}", func(r chi.Router) {
				r.Post("/license-keys", sellercontrollers.ImportKeys(p.Catalog, p.Inventory, logg))
				r.Get("/stock", sellercontrollers.Stock(p.Catalog, p.Inventory, logg))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
			r.Use(middleware.Idempotency(p.Redis, logg))
			r.Get("/disputes", admincontrollers.ListDisputes(p.Orders, logg))
			r.Put("/disputes/{id}/resolve", admincontrollers.ResolveDispute(p.Orders, logg))
			r.Post("/orders/{id}/refund", admincontrollers.RefundOrder(p.Orders, logg))
		})
	})

	return r
}
