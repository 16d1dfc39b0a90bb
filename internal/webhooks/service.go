package webhooks

import (
	"context"
	"strings"

	"github.com/angelmondragon/keymarket-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
)

// PaymentTxScope namespaces transaction ids in the idempotency store.
const PaymentTxScope = "payment_tx"

type reconciler interface {
	Authenticate(ctx context.Context, event *payments.Event) error
	HandleExternalEvent(ctx context.Context, event payments.Event) (*payments.Result, error)
}

type ServiceParams struct {
	Engine reconciler
	Guard  *IdempotencyGuard
	Logger *logger.Logger
}

// Service is the HTTP edge of reconciliation. It drops exact re-deliveries of
// a transaction that was already decided and hands everything else to the
// engine.
type Service struct {
	engine reconciler
	guard  *IdempotencyGuard
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment engine required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		engine: params.Engine,
		guard:  params.Guard,
		logg:   params.Logger,
	}, nil
}

// Authenticate lets callers reject bad credentials before parsing the body.
func (s *Service) Authenticate(ctx context.Context, event *payments.Event) error {
	return s.engine.Authenticate(ctx, event)
}

// Handle returns duplicate=true with a nil result when the transaction was
// seen before.
func (s *Service) Handle(ctx context.Context, event payments.Event) (*payments.Result, bool, error) {
	if err := s.engine.Authenticate(ctx, &event); err != nil {
		return nil, false, err
	}
	txID := strings.TrimSpace(event.TransactionID)
	if txID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	event.TransactionID = txID
	ctx = s.logg.WithField(ctx, "transaction_id", txID)

	duplicate, err := s.guard.CheckAndMark(ctx, txID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check payment idempotency")
	}
	if duplicate {
		s.logg.Info(ctx, "duplicate payment event ignored")
		return nil, true, nil
	}

	result, err := s.engine.HandleExternalEvent(ctx, event)
	if keepMark(result, err) {
		return result, false, err
	}
	if relErr := s.guard.Release(ctx, txID); relErr != nil {
		s.logg.Error(ctx, "failed to release payment idempotency key", relErr)
	}
	return result, false, err
}

// keepMark reports whether the transaction reached a decision that a
// re-delivery cannot change.
func keepMark(result *payments.Result, err error) bool {
	if err != nil {
		return pkgerrors.IsCode(err, pkgerrors.CodeAmountMismatch) || pkgerrors.IsCode(err, pkgerrors.CodeExpired)
	}
	return result != nil && result.Outcome != payments.OutcomePendingConfirmations
}
