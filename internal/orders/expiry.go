package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/keymarket-backend/pkg/pagination"
)

// ExpirePending fails every order still awaiting payment whose window closed
// at or before asOf. Nothing was allocated or credited for these orders, so
// only state changes.
func (s *service) ExpirePending(ctx context.Context, asOf time.Time) (int64, error) {
	asOf = asOf.UTC()
	var total int64
	for {
		var (
			fetched int
			expired int64
		)
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			candidates, err := repo.FindExpirable(ctx, asOf, s.expireBatch)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find expirable orders")
			}
			fetched = len(candidates)
			if fetched == 0 {
				return nil
			}

			ids := make([]uuid.UUID, 0, len(candidates))
			for _, order := range candidates {
				ids = append(ids, order.ID)
			}
			expired, err = repo.ExpireByIDs(ctx, ids, asOf)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire orders")
			}
			for i := range candidates {
				if err := s.emitExpired(ctx, tx, &candidates[i], asOf); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += expired
		if fetched < s.expireBatch || expired == 0 {
			break
		}
	}

	if total > 0 {
		s.logg.Info(s.logg.WithField(ctx, "expired", total), "pending orders expired")
	}
	return total, nil
}

func (s *service) emitExpired(ctx context.Context, tx *gorm.DB, order *models.Order, at time.Time) error {
	return s.emit(ctx, tx, enums.EventOrderExpired, order, outbox.SystemActor("sweeper"), payloads.OrderExpiredEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerEmail:  order.BuyerEmail,
		ExpiredAt:   at,
	}, at)
}

// ExpireIfDue applies the expiry transition on read so status polling never
// reports a pending order whose window has closed.
func (s *service) ExpireIfDue(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	now := s.clock()
	if order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.PaymentStatusPending || !order.PaymentExpired(now) {
		return order, nil
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := loadForUpdate(ctx, repo, orderID)
		if err != nil {
			return err
		}
		order = current
		if current.Status != enums.OrderStatusPending || current.PaymentStatus != enums.PaymentStatusPending {
			return nil
		}
		n, err := repo.ExpireByIDs(ctx, []uuid.UUID{current.ID}, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire order")
		}
		if n == 0 {
			return nil
		}
		current.Status = enums.OrderStatusFailed
		current.PaymentStatus = enums.PaymentStatusExpired
		current.UpdatedAt = now
		return s.emitExpired(ctx, tx, current, now)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CloseReviewWindows emits order_review_window_closed once for each completed
// order whose delivery fell out of the review window during the lookback
// period. Order state is not changed.
func (s *service) CloseReviewWindows(ctx context.Context, asOf time.Time, lookback time.Duration) (int, error) {
	to := asOf.UTC().Add(-s.settings.ReviewWindow)
	from := to.Add(-lookback)

	var (
		cursor  *pagination.Cursor
		handled int
	)
	for {
		batch, err := s.repo.FindDeliveredBetween(ctx, from, to, cursor, s.expireBatch)
		if err != nil {
			return handled, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find orders past review window")
		}
		if len(batch) == 0 {
			break
		}
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			for _, order := range batch {
				event := outbox.DomainEvent{
					EventType:     enums.EventOrderReviewWindowClosed,
					AggregateType: enums.AggregateOrder,
					AggregateID:   order.ID,
					Actor:         outbox.SystemActor("sweeper"),
					Data: payloads.OrderReviewWindowClosedEvent{
						OrderID:     order.ID,
						OrderNumber: order.OrderNumber,
						ProductID:   order.ProductID,
						SellerID:    order.SellerID,
						BuyerID:     order.BuyerID,
						DeliveredAt: *order.DeliveredAt,
					},
					OccurredAt: asOf,
				}
				if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order_review_window_closed")
				}
			}
			return nil
		})
		if err != nil {
			return handled, err
		}
		handled += len(batch)
		if len(batch) < s.expireBatch {
			break
		}
		last := batch[len(batch)-1]
		cursor = &pagination.Cursor{At: *last.DeliveredAt, ID: last.ID}
	}
	return handled, nil
}
