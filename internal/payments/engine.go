package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/internal/orders"
	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
	"github.com/angelmondragon/keymarket-backend/pkg/metrics"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox/payloads"
)

const defaultMinConfirmations = 3

// Source names the channel a payment event arrived on; each source has its
// own verifier.
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourceInternal Source = "internal"
)

// Event is one payment notification. Webhook events carry the address and
// amount; internal events name the order and leave both to the gateway's
// transaction lookup.
type Event struct {
	Source        Source
	TransactionID string
	OrderID       *uuid.UUID
	Address       string
	Amount        decimal.NullDecimal
	Confirmations int

	Signature string
	APIKey    string
	Payload   []byte
}

// Outcome labels an acknowledged event.
type Outcome string

const (
	OutcomePendingConfirmations Outcome = "pending_confirmations"
	OutcomeCompleted            Outcome = "completed"
	OutcomeAlreadyCompleted     Outcome = "already_completed"
	OutcomeUnfulfillable        Outcome = "paid_unfulfillable"
)

// Result is returned for every event the engine acknowledges. Rejections are
// errors instead.
type Result struct {
	Outcome       Outcome       `json:"outcome"`
	Order         *models.Order `json:"-"`
	TransactionID string        `json:"transactionId"`
	Confirmations int           `json:"confirmations"`
	Required      int           `json:"requiredConfirmations"`
	AnomalyID     *uuid.UUID    `json:"anomalyId,omitempty"`
}

// Ledger is the order surface reconciliation drives.
type Ledger interface {
	Get(ctx context.Context, ref string) (*models.Order, error)
	FindByPaymentAddress(ctx context.Context, address string) (*models.Order, error)
	AttachPaymentRequestTx(ctx context.Context, tx *gorm.DB, input orders.PaymentRequestInput) (*models.Order, bool, error)
	ExpireIfDue(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	LockTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	CompleteTx(ctx context.Context, tx *gorm.DB, input orders.CompleteInput) (*orders.CompleteResult, error)
	FailUnfulfillableTx(ctx context.Context, tx *gorm.DB, input orders.FailInput) (*models.Order, error)
}

// Allocator hands out the license key for a paid order.
type Allocator interface {
	AssignTx(ctx context.Context, tx *gorm.DB, productID, orderID uuid.UUID, buyerID *uuid.UUID) (*models.LicenseKey, error)
}

// Simulator registers fake transactions; only the local gateway has one.
type Simulator interface {
	Simulate(ctx context.Context, tx Transaction) (*Transaction, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type EngineParams struct {
	Ledger           Ledger
	Allocator        Allocator
	Gateway          Gateway
	Verifiers        map[Source]Verifier
	Anomalies        AnomalyRepository
	TxRunner         txRunner
	Outbox           outbox.Emitter
	Metrics          *metrics.ReconciliationMetrics
	Logger           *logger.Logger
	MinConfirmations int
	Tolerance        decimal.Decimal
	Clock            func() time.Time
}

// Engine matches gateway payment events to pending orders.
type Engine struct {
	ledger        Ledger
	allocator     Allocator
	gateway       Gateway
	verifiers     map[Source]Verifier
	anomalies     AnomalyRepository
	tx            txRunner
	outbox        outbox.Emitter
	metrics       *metrics.ReconciliationMetrics
	logg          *logger.Logger
	minConfirms   int
	tolerance     decimal.Decimal
	now           func() time.Time
	systemActor   *outbox.ActorRef
	paymentScheme string
}

func NewEngine(params EngineParams) (*Engine, error) {
	switch {
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order ledger required")
	case params.Allocator == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inventory allocator required")
	case params.Gateway == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	case len(params.Verifiers) == 0:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "at least one event verifier required")
	case params.Anomalies == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "anomaly repository required")
	case params.TxRunner == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	minConfirms := params.MinConfirmations
	if minConfirms <= 0 {
		minConfirms = defaultMinConfirmations
	}
	tolerance := params.Tolerance
	if !tolerance.IsPositive() {
		tolerance = decimal.New(1, -8)
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		ledger:        params.Ledger,
		allocator:     params.Allocator,
		gateway:       params.Gateway,
		verifiers:     params.Verifiers,
		anomalies:     params.Anomalies,
		tx:            params.TxRunner,
		outbox:        params.Outbox,
		metrics:       params.Metrics,
		logg:          params.Logger,
		minConfirms:   minConfirms,
		tolerance:     tolerance,
		now:           clock,
		systemActor:   outbox.SystemActor("reconciliation"),
		paymentScheme: string(enums.PaymentMethodLitecoin),
	}, nil
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// PaymentRequest is what the buyer needs to pay an order.
type PaymentRequest struct {
	OrderID     uuid.UUID       `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	Address     string          `json:"paymentAddress"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    enums.Currency  `json:"currency"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

func requestFromOrder(order *models.Order) *PaymentRequest {
	amount := order.Total
	if order.PaymentAmount.Valid {
		amount = order.PaymentAmount.Decimal
	}
	req := &PaymentRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      amount,
		Currency:    order.PaymentCurrency,
		ExpiresAt:   order.PaymentExpiresAt,
	}
	if order.PaymentAddress != nil {
		req.Address = *order.PaymentAddress
	}
	return req
}

// RequestPayment issues the deposit address for a pending order. An order
// that already has one gets the stored request back. The gateway is asked
// while the order row is locked, so concurrent callers never mint two
// addresses.
func (e *Engine) RequestPayment(ctx context.Context, orderID uuid.UUID) (*PaymentRequest, error) {
	var stored *models.Order
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := e.ledger.LockTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentAddress != nil {
			stored = order
			return nil
		}
		if order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.PaymentStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").
				WithDetails(map[string]any{"status": order.Status, "payment_status": order.PaymentStatus})
		}
		if order.PaymentExpired(e.clock()) {
			return pkgerrors.New(pkgerrors.CodeExpired, "payment window has closed")
		}

		address, err := e.gateway.CreatePaymentAddress(ctx, AddressRequest{
			OrderID:   order.ID,
			Amount:    order.Total,
			Currency:  order.PaymentCurrency,
			ExpiresAt: order.PaymentExpiresAt,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment address")
		}
		stored, _, err = e.ledger.AttachPaymentRequestTx(ctx, tx, orders.PaymentRequestInput{
			OrderID:   order.ID,
			Address:   address,
			Amount:    order.Total,
			ExpiresAt: order.PaymentExpiresAt,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return requestFromOrder(stored), nil
}

// HandleExternalEvent authenticates a payment event and reconciles it. Gates
// run in order and the first failing gate decides the error.
func (e *Engine) HandleExternalEvent(ctx context.Context, event Event) (result *Result, err error) {
	outcome := "error"
	defer func() {
		switch {
		case result != nil:
			outcome = string(result.Outcome)
		case err != nil:
			outcome = strings.ToLower(string(pkgerrors.CodeOf(err)))
		}
		e.metrics.Observe(outcome)
	}()

	if err := e.Authenticate(ctx, &event); err != nil {
		return nil, err
	}
	return e.reconcile(ctx, event)
}

// Authenticate runs the verifier registered for the event's source.
func (e *Engine) Authenticate(ctx context.Context, event *Event) error {
	verifier, ok := e.verifiers[event.Source]
	if !ok || !verifier.Authenticate(event) {
		e.logg.Warn(e.logg.WithField(ctx, "source", string(event.Source)), "payment event failed authentication")
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid payment event credentials")
	}
	return nil
}

// SimulatePayment pays an order's requested amount through the local
// gateway and reconciles it without the authentication gate.
func (e *Engine) SimulatePayment(ctx context.Context, orderID uuid.UUID) (*Result, error) {
	simulator, ok := e.gateway.(Simulator)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment simulation is not available")
	}
	order, err := e.ledger.Get(ctx, orderID.String())
	if err != nil {
		return nil, err
	}
	if order.PaymentAddress == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no payment request")
	}
	req := requestFromOrder(order)
	confirmations := e.minConfirms * 2
	tx, err := simulator.Simulate(ctx, Transaction{
		Address:       req.Address,
		Amount:        req.Amount,
		Confirmations: confirmations,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "simulate transaction")
	}
	id := order.ID
	result, err := e.reconcile(ctx, Event{
		Source:        SourceInternal,
		TransactionID: tx.ID,
		OrderID:       &id,
		Confirmations: confirmations,
	})
	if result != nil {
		e.metrics.Observe(string(result.Outcome))
	}
	return result, err
}

func (e *Engine) reconcile(ctx context.Context, event Event) (*Result, error) {
	txID := strings.TrimSpace(event.TransactionID)
	if txID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	logCtx := e.logg.WithFields(ctx, map[string]any{
		"transaction_id": txID,
		"source":         string(event.Source),
	})

	result := &Result{TransactionID: txID, Confirmations: event.Confirmations, Required: e.minConfirms}
	if event.Confirmations < e.minConfirms {
		e.logg.Info(e.logg.WithField(logCtx, "confirmations", event.Confirmations), "payment awaiting confirmations")
		result.Outcome = OutcomePendingConfirmations
		return result, nil
	}

	address, amount, err := e.resolveTransaction(ctx, txID, event)
	if err != nil {
		return nil, err
	}

	order, err := e.ledger.FindByPaymentAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if event.OrderID != nil && *event.OrderID != order.ID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	logCtx = e.logg.WithOrderID(logCtx, order.ID.String())
	result.Order = order

	if settledBy(order, txID) {
		if order.FulfillmentFailed {
			result.Outcome = OutcomeUnfulfillable
		} else {
			result.Outcome = OutcomeAlreadyCompleted
		}
		e.logg.Info(logCtx, "payment event already reconciled")
		return result, nil
	}
	if order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no pending order for payment address")
	}

	expected := requestFromOrder(order).Amount
	if amount.Sub(expected).Abs().GreaterThan(e.tolerance) {
		anomalyID, err := e.flagMismatch(ctx, order, txID, address, expected, amount, event.Confirmations)
		if err != nil {
			return nil, err
		}
		e.metrics.IncAmountMismatch()
		e.logg.Warn(e.logg.WithFields(logCtx, map[string]any{
			"expected":   expected.String(),
			"received":   amount.String(),
			"anomaly_id": anomalyID.String(),
		}), "payment amount mismatch")
		return nil, pkgerrors.New(pkgerrors.CodeAmountMismatch, "payment amount does not match order").
			WithDetails(map[string]any{"expected": expected.String(), "received": amount.String()})
	}

	if order.PaymentExpired(e.clock()) {
		if _, err := e.recordAnomaly(ctx, nil, order, enums.AnomalyExpiredPayment, txID, address, expected, amount, event.Confirmations, "payment arrived after the window closed"); err != nil {
			return nil, err
		}
		e.logg.Warn(logCtx, "payment arrived after expiry")
		return nil, pkgerrors.New(pkgerrors.CodeExpired, "payment window has closed")
	}

	return e.settle(ctx, logCtx, result, order, txID, address, amount, event.Confirmations)
}

// resolveTransaction fills in address and amount from the gateway when the
// event does not carry them.
func (e *Engine) resolveTransaction(ctx context.Context, txID string, event Event) (string, decimal.Decimal, error) {
	address := strings.TrimSpace(event.Address)
	if address != "" && event.Amount.Valid {
		return address, event.Amount.Decimal, nil
	}
	tx, err := e.gateway.LookupTransaction(ctx, txID)
	if errors.Is(err, ErrTransactionNotFound) {
		return "", decimal.Zero, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	if err != nil {
		return "", decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup transaction")
	}
	if address == "" {
		address = tx.Address
	}
	amount := tx.Amount
	if event.Amount.Valid {
		amount = event.Amount.Decimal
	}
	return address, amount, nil
}

// settledBy reports whether txID already paid the order.
func settledBy(order *models.Order, txID string) bool {
	return order.PaymentTxID != nil && *order.PaymentTxID == txID &&
		order.PaymentStatus != enums.PaymentStatusPending
}

func (e *Engine) settle(ctx, logCtx context.Context, result *Result, order *models.Order, txID, address string, amount decimal.Decimal, confirmations int) (*Result, error) {
	var unfulfillable *models.PaymentAnomaly
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := e.ledger.LockTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if locked.Status != enums.OrderStatusPending {
			completed, err := e.ledger.CompleteTx(ctx, tx, orders.CompleteInput{OrderID: locked.ID, TransactionID: txID, Actor: e.systemActor})
			if err != nil {
				return err
			}
			result.Order = completed.Order
			result.Outcome = OutcomeAlreadyCompleted
			return nil
		}

		key, err := e.allocator.AssignTx(ctx, tx, locked.ProductID, locked.ID, locked.BuyerID)
		if pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock) {
			failed, err := e.ledger.FailUnfulfillableTx(ctx, tx, orders.FailInput{
				OrderID:       locked.ID,
				TransactionID: txID,
				Confirmations: confirmations,
				Reason:        "no license key available at payment time",
				Actor:         e.systemActor,
			})
			if err != nil {
				return err
			}
			unfulfillable, err = e.recordAnomaly(ctx, tx, failed, enums.AnomalyUnfulfillable, txID, address, requestFromOrder(failed).Amount, amount, confirmations, "paid but no license key available")
			if err != nil {
				return err
			}
			result.Order = failed
			result.Outcome = OutcomeUnfulfillable
			return nil
		}
		if err != nil {
			return err
		}

		completed, err := e.ledger.CompleteTx(ctx, tx, orders.CompleteInput{
			OrderID:       locked.ID,
			LicenseKey:    key,
			TransactionID: txID,
			Confirmations: confirmations,
			Actor:         e.systemActor,
		})
		if err != nil {
			return err
		}
		result.Order = completed.Order
		result.Outcome = OutcomeCompleted
		if !completed.Applied {
			result.Outcome = OutcomeAlreadyCompleted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if unfulfillable != nil {
		id := unfulfillable.ID
		result.AnomalyID = &id
		e.metrics.IncUnfulfillable()
		e.logg.Error(e.logg.WithFields(logCtx, map[string]any{
			"alert":      "paid_unfulfillable",
			"product_id": order.ProductID.String(),
			"anomaly_id": id.String(),
		}), "payment received but no license key could be assigned", pkgerrors.New(pkgerrors.CodeOutOfStock, "no license keys available"))
		return result, nil
	}
	e.logg.Info(logCtx, "payment reconciled")
	return result, nil
}

// flagMismatch records the anomaly and its event together; the order is
// left as it was.
func (e *Engine) flagMismatch(ctx context.Context, order *models.Order, txID, address string, expected, received decimal.Decimal, confirmations int) (uuid.UUID, error) {
	var anomalyID uuid.UUID
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		anomaly, err := e.recordAnomaly(ctx, tx, order, enums.AnomalyAmountMismatch, txID, address, expected, received, confirmations,
			fmt.Sprintf("expected %s received %s", expected.String(), received.String()))
		if err != nil {
			return err
		}
		anomalyID = anomaly.ID
		return nil
	})
	return anomalyID, err
}

// recordAnomaly writes the anomaly row and, for kinds that have one, its
// outbox event. A nil tx runs it in its own transaction.
func (e *Engine) recordAnomaly(ctx context.Context, tx *gorm.DB, order *models.Order, kind enums.PaymentAnomalyKind, txID, address string, expected, received decimal.Decimal, confirmations int, detail string) (*models.PaymentAnomaly, error) {
	if tx == nil {
		var anomaly *models.PaymentAnomaly
		err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			anomaly, err = e.recordAnomaly(ctx, tx, order, kind, txID, address, expected, received, confirmations, detail)
			return err
		})
		return anomaly, err
	}

	orderID := order.ID
	anomaly := &models.PaymentAnomaly{
		OrderID:        &orderID,
		Kind:           kind,
		PaymentAddress: address,
		TransactionID:  txID,
		ExpectedAmount: decimal.NewNullDecimal(expected),
		ReceivedAmount: received,
		Confirmations:  confirmations,
		Detail:         detail,
		CreatedAt:      e.clock(),
	}
	if err := e.anomalies.WithTx(tx).Create(ctx, anomaly); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment anomaly")
	}

	var data any
	var eventType enums.OutboxEventType
	switch kind {
	case enums.AnomalyAmountMismatch:
		eventType = enums.EventPaymentAmountMismatch
		data = payloads.PaymentAmountMismatchEvent{
			AnomalyID:      anomaly.ID,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			PaymentAddress: address,
			TransactionID:  txID,
			Expected:       expected,
			Received:       received,
		}
	case enums.AnomalyUnfulfillable:
		eventType = enums.EventPaymentUnfulfillable
		data = payloads.PaymentUnfulfillableEvent{
			AnomalyID:     anomaly.ID,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			ProductID:     order.ProductID,
			SellerID:      order.SellerID,
			BuyerEmail:    order.BuyerEmail,
			TransactionID: txID,
			Amount:        received,
		}
	default:
		return anomaly, nil
	}
	err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         e.systemActor,
		Data:          data,
		OccurredAt:    anomaly.CreatedAt,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("emit %s", eventType))
	}
	return anomaly, nil
}
