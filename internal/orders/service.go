package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/internal/catalog"
	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox"
)

const (
	orderNumberPrefix     = "ORD-"
	orderNumberAttempts   = 5
	orderNumberConstraint = "orders_order_number_key"
	defaultExpireBatch    = 200
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Allocator is the part of the inventory the ledger needs: the intake
// pre-check and returning a key on refund.
type Allocator interface {
	ReserveCheck(ctx context.Context, productID uuid.UUID) (bool, error)
	ReleaseTx(ctx context.Context, tx *gorm.DB, keyID uuid.UUID) (bool, error)
}

// Earnings applies and reverses the balance effects of an order.
type Earnings interface {
	CreditOrder(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error)
	ReverseOrder(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error)
}

// Service is the order ledger: the authoritative record of each purchase and
// the only writer of its state.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, ref string) (*models.Order, error)
	FindByPaymentAddress(ctx context.Context, address string) (*models.Order, error)
	AttachPaymentRequest(ctx context.Context, input PaymentRequestInput) (*models.Order, bool, error)
	AttachPaymentRequestTx(ctx context.Context, tx *gorm.DB, input PaymentRequestInput) (*models.Order, bool, error)
	LockTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	Complete(ctx context.Context, input CompleteInput) (*CompleteResult, error)
	CompleteTx(ctx context.Context, tx *gorm.DB, input CompleteInput) (*CompleteResult, error)
	FailUnfulfillableTx(ctx context.Context, tx *gorm.DB, input FailInput) (*models.Order, error)
	Refund(ctx context.Context, input RefundInput) (*models.Order, error)
	OpenDispute(ctx context.Context, input DisputeInput) (*models.Order, error)
	RequestRefund(ctx context.Context, input RefundRequestInput) (*models.Order, error)
	ResolveDispute(ctx context.Context, input ResolveDisputeInput) (*models.Order, error)
	ExpirePending(ctx context.Context, asOf time.Time) (int64, error)
	ExpireIfDue(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	CloseReviewWindows(ctx context.Context, asOf time.Time, lookback time.Duration) (int, error)
	ListDisputes(ctx context.Context, input ListDisputesInput) (*DisputePage, error)
}

// ServiceParams wires the ledger.
type ServiceParams struct {
	Repo        Repository
	TxRunner    txRunner
	Catalog     catalog.Service
	Sales       catalog.Repository
	Inventory   Allocator
	Earnings    Earnings
	Outbox      outbox.Emitter
	Logger      *logger.Logger
	Settings    Settings
	ExpireBatch int
	Clock       func() time.Time
}

type service struct {
	repo        Repository
	tx          txRunner
	catalog     catalog.Service
	sales       catalog.Repository
	inventory   Allocator
	earnings    Earnings
	outbox      outbox.Emitter
	logg        *logger.Logger
	settings    Settings
	expireBatch int
	now         func() time.Time
	validate    *validator.Validate
	newNumber   func() string
}

// NewService builds the order ledger with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.TxRunner == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Catalog == nil || params.Sales == nil:
		return nil, fmt.Errorf("catalog service and repository required")
	case params.Inventory == nil:
		return nil, fmt.Errorf("inventory allocator required")
	case params.Earnings == nil:
		return nil, fmt.Errorf("earnings service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	if err := params.Settings.validate(); err != nil {
		return nil, err
	}
	batch := params.ExpireBatch
	if batch <= 0 {
		batch = defaultExpireBatch
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:        params.Repo,
		tx:          params.TxRunner,
		catalog:     params.Catalog,
		sales:       params.Sales,
		inventory:   params.Inventory,
		earnings:    params.Earnings,
		outbox:      params.Outbox,
		logg:        params.Logger,
		settings:    params.Settings,
		expireBatch: batch,
		now:         now,
		validate:    validator.New(),
		newNumber:   generateOrderNumber,
	}, nil
}

// generateOrderNumber returns ORD- followed by the first eight hex characters
// of a random uuid, upper-cased.
func generateOrderNumber() string {
	return orderNumberPrefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

// loadForUpdate maps a missing row to NOT_FOUND and every other failure to a
// dependency error.
func loadForUpdate(ctx context.Context, repo Repository, id uuid.UUID) (*models.Order, error) {
	order, err := repo.FindForUpdate(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func stateConflict(order *models.Order, action string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot %s an order in state %s", action, order.Status)).
		WithDetails(map[string]any{
			"order_id": order.ID,
			"status":   order.Status,
		})
}

func (s *service) Get(ctx context.Context, ref string) (*models.Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order reference is required")
	}

	var (
		order *models.Order
		err   error
	)
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		order, err = s.repo.FindByID(ctx, id)
	} else {
		order, err = s.repo.FindByNumber(ctx, strings.ToUpper(ref))
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) FindByPaymentAddress(ctx context.Context, address string) (*models.Order, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment address is required")
	}
	order, err := s.repo.FindByPaymentAddress(ctx, address)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by payment address")
	}
	return order, nil
}

func (s *service) LockTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lock requires a transaction")
	}
	return loadForUpdate(ctx, s.repo.WithTx(tx), orderID)
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, order *models.Order, actor *outbox.ActorRef, data any, at time.Time) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data:          data,
		OccurredAt:    at,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("emit %s", eventType))
	}
	return nil
}
