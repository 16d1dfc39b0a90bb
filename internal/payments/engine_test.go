package payments

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/internal/balances"
	"github.com/angelmondragon/keymarket-backend/internal/catalog"
	"github.com/angelmondragon/keymarket-backend/internal/inventory"
	"github.com/angelmondragon/keymarket-backend/internal/ledger"
	"github.com/angelmondragon/keymarket-backend/internal/orders"
	"github.com/angelmondragon/keymarket-backend/pkg/db"
	"github.com/angelmondragon/keymarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
	"github.com/angelmondragon/keymarket-backend/pkg/metrics"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox"
)

const (
	webhookSecret  = "hook-secret"
	internalAPIKey = "internal-key"
)

type engineHarness struct {
	conn     *gorm.DB
	engine   *Engine
	orders   orders.Service
	balances balances.Service
	now      time.Time
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	conn := dbtest.Open(t, t.Name())
	logg := logger.New(logger.Options{Output: io.Discard})
	h := &engineHarness{conn: conn, now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }
	txRunner := db.FromConn(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	inv, err := inventory.NewService(inventory.ServiceParams{
		Repo:     inventory.NewRepository(conn),
		TxRunner: txRunner,
		Outbox:   emitter,
		Logger:   logg,
		Clock:    clock,
	})
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	earnings, err := balances.NewService(balances.NewRepository(conn), ledgerSvc, logg)
	require.NoError(t, err)
	catalogRepo := catalog.NewRepository(conn)
	catalogSvc, err := catalog.NewService(catalogRepo)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:      orders.NewRepository(conn),
		TxRunner:  txRunner,
		Catalog:   catalogSvc,
		Sales:     catalogRepo,
		Inventory: inv,
		Earnings:  earnings,
		Outbox:    emitter,
		Logger:    logg,
		Settings:  orders.DefaultSettings(),
		Clock:     clock,
	})
	require.NoError(t, err)

	gateway, err := NewLocalGateway(newMemoryStore(), "master-secret", time.Hour)
	require.NoError(t, err)
	engine, err := NewEngine(EngineParams{
		Ledger:    orderSvc,
		Allocator: inv,
		Gateway:   gateway,
		Verifiers: map[Source]Verifier{
			SourceWebhook:  NewHMACVerifier(webhookSecret),
			SourceInternal: NewSharedSecretVerifier(internalAPIKey),
		},
		Anomalies: NewAnomalyRepository(conn),
		TxRunner:  txRunner,
		Outbox:    emitter,
		Metrics:   metrics.NewReconciliationMetrics(prometheus.NewRegistry()),
		Logger:    logg,
		Clock:     clock,
	})
	require.NoError(t, err)

	h.engine = engine
	h.orders = orderSvc
	h.balances = earnings
	return h
}

func (h *engineHarness) seedProduct(t *testing.T, keys int) *models.Product {
	t.Helper()
	product := &models.Product{
		SellerID:       uuid.New(),
		Name:           "Wallhack Lite",
		Game:           "Rust",
		Duration:       "7 days",
		Price:          decimal.RequireFromString("2"),
		IsActive:       true,
		ApprovalStatus: enums.ProductApprovalApproved,
		Status:         enums.ProductStatusActive,
	}
	require.NoError(t, h.conn.Create(product).Error)
	for i := 0; i < keys; i++ {
		require.NoError(t, h.conn.Create(&models.LicenseKey{
			ProductID: product.ID,
			SellerID:  product.SellerID,
			Code:      "KEY-" + uuid.NewString()[:13],
			IsActive:  true,
		}).Error)
	}
	return product
}

func (h *engineHarness) pendingOrder(t *testing.T, product *models.Product) (*models.Order, *PaymentRequest) {
	t.Helper()
	ctx := context.Background()
	order, err := h.orders.Create(ctx, orders.CreateInput{ProductID: product.ID, BuyerEmail: "buyer@example.com"})
	require.NoError(t, err)
	req, err := h.engine.RequestPayment(ctx, order.ID)
	require.NoError(t, err)
	return order, req
}

func (h *engineHarness) reload(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, h.conn.First(&order, "id = ?", id).Error)
	return &order
}

func (h *engineHarness) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func webhookEvent(address, txID string, amount decimal.Decimal, confirmations int) Event {
	payload := []byte(fmt.Sprintf(`{"transactionId":%q,"address":%q,"amount":%q,"confirmations":%d}`, txID, address, amount.String(), confirmations))
	return Event{
		Source:        SourceWebhook,
		TransactionID: txID,
		Address:       address,
		Amount:        decimal.NewNullDecimal(amount),
		Confirmations: confirmations,
		Signature:     hex.EncodeToString(Sign([]byte(webhookSecret), payload)),
		Payload:       payload,
	}
}

func TestRequestPaymentIsIssuedOnce(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	order, first := h.pendingOrder(t, h.seedProduct(t, 1))

	assert.Regexp(t, `^LTC[0-9a-f]{30}$`, first.Address)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("2")))
	assert.Equal(t, enums.CurrencyLTC, first.Currency)
	assert.True(t, first.ExpiresAt.Equal(h.now.Add(30*time.Minute)))

	second, err := h.engine.RequestPayment(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Address, second.Address)
	stored := h.reload(t, order.ID)
	require.NotNil(t, stored.PaymentAddress)
	assert.Equal(t, first.Address, *stored.PaymentAddress)
}

// mintingGateway hands out a fresh address on every call.
type mintingGateway struct {
	*LocalGateway
	calls atomic.Int32
}

func (g *mintingGateway) CreatePaymentAddress(_ context.Context, _ AddressRequest) (string, error) {
	g.calls.Add(1)
	return "LTC" + uuid.NewString(), nil
}

func TestConcurrentRequestPaymentMintsOneAddress(t *testing.T) {
	const callers = 6
	h := newEngineHarness(t)
	ctx := context.Background()
	gateway := &mintingGateway{LocalGateway: h.engine.gateway.(*LocalGateway)}
	h.engine.gateway = gateway
	order, err := h.orders.Create(ctx, orders.CreateInput{ProductID: h.seedProduct(t, 1).ID, BuyerEmail: "buyer@example.com"})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		addresses = map[string]int{}
		errs      []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			req, err := h.engine.RequestPayment(ctx, order.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			addresses[req.Address]++
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, int32(1), gateway.calls.Load())
	require.Len(t, addresses, 1)
	stored := h.reload(t, order.ID)
	require.NotNil(t, stored.PaymentAddress)
	assert.Equal(t, callers, addresses[*stored.PaymentAddress])
}

func TestRequestPaymentRejectsClosedOrders(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	order, err := h.orders.Create(ctx, orders.CreateInput{ProductID: h.seedProduct(t, 1).ID, BuyerEmail: "buyer@example.com"})
	require.NoError(t, err)

	h.now = h.now.Add(time.Hour)
	_, err = h.engine.RequestPayment(ctx, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeExpired))

	_, err = h.orders.ExpirePending(ctx, h.now)
	require.NoError(t, err)
	_, err = h.engine.RequestPayment(ctx, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestHandleEventRejectsBadCredentialsBeforeLookup(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	order, req := h.pendingOrder(t, h.seedProduct(t, 1))

	event := webhookEvent(req.Address, "tx-1", req.Amount, 6)
	event.Signature = hex.EncodeToString(Sign([]byte("wrong"), event.Payload))
	_, err := h.engine.HandleExternalEvent(ctx, event)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	unknown := webhookEvent("LTCdoesnotexist", "tx-2", req.Amount, 6)
	unknown.Signature = ""
	_, err = h.engine.HandleExternalEvent(ctx, unknown)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), "unauthenticated callers never learn whether an address exists")

	_, err = h.engine.HandleExternalEvent(ctx, Event{Source: "carrier-pigeon", TransactionID: "tx-3"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	assert.Equal(t, enums.OrderStatusPending, h.reload(t, order.ID).Status)
}

func TestHandleEventWaitsForConfirmations(t *testing.T) {
	h := newEngineHarness(t)
	order, req := h.pendingOrder(t, h.seedProduct(t, 1))

	res, err := h.engine.HandleExternalEvent(context.Background(), webhookEvent(req.Address, "tx-1", req.Amount, 2))
	require.NoError(t, err)
	assert.Equal(t, OutcomePendingConfirmations, res.Outcome)
	assert.Equal(t, 3, res.Required)
	assert.Equal(t, enums.OrderStatusPending, h.reload(t, order.ID).Status)
}

func TestHandleEventUnknownAddress(t *testing.T) {
	h := newEngineHarness(t)
	_, err := h.engine.HandleExternalEvent(context.Background(), webhookEvent("LTCnowhere", "tx-1", decimal.RequireFromString("2"), 6))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestHandleEventAmountTolerance(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	order, req := h.pendingOrder(t, h.seedProduct(t, 1))

	_, err := h.engine.HandleExternalEvent(ctx, webhookEvent(req.Address, "tx-short", decimal.RequireFromString("1.99999998"), 6))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAmountMismatch))
	stored := h.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusPending, stored.Status)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
	assert.Equal(t, int64(1), h.count(t, &models.PaymentAnomaly{}, "order_id = ? AND kind = ?", order.ID, enums.AnomalyAmountMismatch))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentAmountMismatch))

	res, err := h.engine.HandleExternalEvent(ctx, webhookEvent(req.Address, "tx-ok", decimal.RequireFromString("2.000000005"), 6))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
}

func TestHandleEventAfterExpiryIsDeclined(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	order, req := h.pendingOrder(t, h.seedProduct(t, 1))

	h.now = h.now.Add(31 * time.Minute)
	_, err := h.engine.HandleExternalEvent(ctx, webhookEvent(req.Address, "tx-late", req.Amount, 6))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeExpired))

	stored := h.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusPending, stored.Status, "expiry transition belongs to the sweeper")
	assert.Equal(t, int64(1), h.count(t, &models.PaymentAnomaly{}, "order_id = ? AND kind = ?", order.ID, enums.AnomalyExpiredPayment))
}

func TestHandleEventCompletesOnceOnRedelivery(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	product := h.seedProduct(t, 1)
	order, req := h.pendingOrder(t, product)
	event := webhookEvent(req.Address, "tx-dup", req.Amount, 6)

	first, err := h.engine.HandleExternalEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, first.Outcome)
	require.NotNil(t, first.Order.LicenseCode)

	second, err := h.engine.HandleExternalEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyCompleted, second.Outcome)

	stored := h.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusCompleted, stored.Status)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, 6, stored.PaymentConfirmations)

	balance, err := h.balances.SellerBalance(ctx, product.SellerID)
	require.NoError(t, err)
	assert.True(t, balance.PendingEarnings.Equal(decimal.RequireFromString("1.7")), balance.PendingEarnings.String())
	assert.Equal(t, int64(1), h.count(t, &models.LicenseKey{}, "order_id = ? AND is_used = ?", order.ID, true))

	_, err = h.engine.HandleExternalEvent(ctx, webhookEvent(req.Address, "tx-other", req.Amount, 6))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "a second payment does not touch a completed order")
}

func TestHandleEventPaidButUnfulfillable(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	product := h.seedProduct(t, 1)
	winner, winnerReq := h.pendingOrder(t, product)
	loser, loserReq := h.pendingOrder(t, product)

	res, err := h.engine.HandleExternalEvent(ctx, webhookEvent(winnerReq.Address, "tx-a", winnerReq.Amount, 6))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)

	res, err = h.engine.HandleExternalEvent(ctx, webhookEvent(loserReq.Address, "tx-b", loserReq.Amount, 6))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnfulfillable, res.Outcome)
	require.NotNil(t, res.AnomalyID)

	stored := h.reload(t, loser.ID)
	assert.Equal(t, enums.OrderStatusFailed, stored.Status)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
	assert.True(t, stored.FulfillmentFailed)
	assert.Nil(t, stored.LicenseKeyID)
	assert.Equal(t, enums.OrderStatusCompleted, h.reload(t, winner.ID).Status)

	again, err := h.engine.HandleExternalEvent(ctx, webhookEvent(loserReq.Address, "tx-b", loserReq.Amount, 7))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnfulfillable, again.Outcome)
	assert.Equal(t, int64(1), h.count(t, &models.PaymentAnomaly{}, "order_id = ? AND kind = ?", loser.ID, enums.AnomalyUnfulfillable))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentUnfulfillable))

	balance, err := h.balances.SellerBalance(ctx, product.SellerID)
	require.NoError(t, err)
	assert.True(t, balance.PendingEarnings.Equal(decimal.RequireFromString("1.7")))
}

func TestInternalEventUsesGatewayLookup(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	order, req := h.pendingOrder(t, h.seedProduct(t, 1))

	gateway := h.engine.gateway.(*LocalGateway)
	tx, err := gateway.Simulate(ctx, Transaction{Address: req.Address, Amount: req.Amount, Confirmations: 6})
	require.NoError(t, err)

	otherOrder := uuid.New()
	_, err = h.engine.HandleExternalEvent(ctx, Event{Source: SourceInternal, APIKey: internalAPIKey, TransactionID: tx.ID, OrderID: &otherOrder, Confirmations: 6})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = h.engine.HandleExternalEvent(ctx, Event{Source: SourceInternal, APIKey: internalAPIKey, TransactionID: "unknown", OrderID: &order.ID, Confirmations: 6})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	res, err := h.engine.HandleExternalEvent(ctx, Event{Source: SourceInternal, APIKey: internalAPIKey, TransactionID: tx.ID, OrderID: &order.ID, Confirmations: 6})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
}

func TestInternalEventBelowConfirmationsSkipsLookup(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	order, _ := h.pendingOrder(t, h.seedProduct(t, 1))

	res, err := h.engine.HandleExternalEvent(ctx, Event{Source: SourceInternal, APIKey: internalAPIKey, TransactionID: "not-indexed-yet", OrderID: &order.ID, Confirmations: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomePendingConfirmations, res.Outcome)
	assert.Nil(t, res.Order)

	stored := h.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusPending, stored.Status)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
}

func TestSimulatePaymentCompletesOrder(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	order, _ := h.pendingOrder(t, h.seedProduct(t, 1))

	res, err := h.engine.SimulatePayment(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, enums.OrderStatusCompleted, h.reload(t, order.ID).Status)
}

func TestPaymentDetails(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	order, req := h.pendingOrder(t, h.seedProduct(t, 1))

	details, err := h.engine.PaymentDetails(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, req.Address, details.Address)
	assert.Equal(t, "litecoin:"+req.Address+"?amount=2", details.PaymentURI)
	assert.Equal(t, enums.PaymentStatusPending, details.PaymentStatus)

	h.now = h.now.Add(45 * time.Minute)
	details, err = h.engine.PaymentDetails(ctx, order.ID.String())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusFailed, details.Status)
	assert.Equal(t, enums.PaymentStatusExpired, details.PaymentStatus)
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	_, err := NewEngine(EngineParams{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
}
