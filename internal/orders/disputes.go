package orders

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox/payloads"
)

const (
	maxReasonLength     = 1000
	disputeRefundReason = "Dispute resolved with refund"
	defaultRefundReason = "Refunded by administrator"
)

// RefundInput is a direct completed-to-refunded transition.
type RefundInput struct {
	OrderID uuid.UUID
	Reason  string
	Actor   *outbox.ActorRef
}

// DisputeInput opens a dispute on a completed order.
type DisputeInput struct {
	OrderID uuid.UUID
	Reason  string
	Actor   *outbox.ActorRef
}

// RefundRequestInput is a buyer asking for their money back; it opens a
// dispute for an administrator to resolve.
type RefundRequestInput struct {
	OrderID uuid.UUID
	BuyerID uuid.UUID
	Reason  string
}

// ResolveDisputeInput carries the verdict. A refund verdict refunds the
// order; anything else upholds the sale.
type ResolveDisputeInput struct {
	OrderID    uuid.UUID
	Resolution string
	Notes      string
	Actor      *outbox.ActorRef
}

func cleanReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"reason": "must be at most 1000 characters"})
	}
	return reason, nil
}

func (s *service) Refund(ctx context.Context, input RefundInput) (*models.Order, error) {
	reason, err := cleanReason(input.Reason)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = defaultRefundReason
	}

	var order *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := loadForUpdate(ctx, s.repo.WithTx(tx), input.OrderID)
		if err != nil {
			return err
		}
		if current.Status != enums.OrderStatusCompleted {
			return stateConflict(current, "refund")
		}
		order, err = s.refundTx(ctx, tx, current, reason, input.Actor, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// refundTx reverses everything completion applied: the earnings credit, the
// buyer and sales counters, and the key assignment. extra is merged into the
// order update so dispute resolution lands in the same write.
func (s *service) refundTx(ctx context.Context, tx *gorm.DB, order *models.Order, reason string, actor *outbox.ActorRef, extra map[string]any) (*models.Order, error) {
	from := order.Status
	if !from.CanTransitionTo(enums.OrderStatusRefunded) {
		return nil, stateConflict(order, "refund")
	}

	now := s.clock()
	updates := map[string]any{
		"status":         enums.OrderStatusRefunded,
		"payment_status": enums.PaymentStatusRefunded,
		"refunded_at":    now,
		"refund_reason":  reason,
		"updated_at":     now,
	}
	for k, v := range extra {
		updates[k] = v
	}
	ok, err := s.repo.WithTx(tx).Transition(ctx, order.ID, from, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund order")
	}
	if !ok {
		return nil, stateConflict(order, "refund")
	}

	reversed, err := s.earnings.ReverseOrder(ctx, tx, order)
	if err != nil {
		return nil, err
	}
	if reversed {
		if _, err := s.sales.WithTx(tx).AdjustSales(ctx, order.ProductID, -1); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "uncount product sale")
		}
	}
	if order.LicenseKeyID != nil {
		if _, err := s.inventory.ReleaseTx(ctx, tx, *order.LicenseKeyID); err != nil {
			return nil, err
		}
	}

	order.Status = enums.OrderStatusRefunded
	order.PaymentStatus = enums.PaymentStatusRefunded
	order.RefundedAt = &now
	order.RefundReason = &reason
	order.UpdatedAt = now

	if err := s.emit(ctx, tx, enums.EventOrderRefunded, order, actor, payloads.OrderRefundedEvent{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		SellerID:     order.SellerID,
		BuyerEmail:   order.BuyerEmail,
		Amount:       order.Total,
		Reason:       reason,
		LicenseKeyID: order.LicenseKeyID,
		RefundedAt:   now,
	}, now); err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"from":             string(from),
		"earnings_reverse": order.SellerEarnings.String(),
	})
	s.logg.Info(logCtx, "order refunded")
	return order, nil
}

func (s *service) OpenDispute(ctx context.Context, input DisputeInput) (*models.Order, error) {
	reason, err := cleanReason(input.Reason)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"reason": "is required"})
	}

	var order *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := loadForUpdate(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if current.Status != enums.OrderStatusCompleted {
			return stateConflict(current, "dispute")
		}

		now := s.clock()
		ok, err := repo.Transition(ctx, current.ID, enums.OrderStatusCompleted, map[string]any{
			"status":              enums.OrderStatusDisputed,
			"dispute_open":        true,
			"dispute_reason":      reason,
			"dispute_opened_at":   now,
			"dispute_resolved_at": nil,
			"dispute_resolution":  nil,
			"dispute_notes":       nil,
			"updated_at":          now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open dispute")
		}
		if !ok {
			return stateConflict(current, "dispute")
		}
		current.Status = enums.OrderStatusDisputed
		current.DisputeOpen = true
		current.DisputeReason = &reason
		current.DisputeOpenedAt = &now
		current.DisputeResolvedAt = nil
		current.DisputeResolution = nil
		current.DisputeNotes = nil
		current.UpdatedAt = now
		order = current

		return s.emit(ctx, tx, enums.EventDisputeOpened, current, input.Actor, payloads.DisputeOpenedEvent{
			OrderID:     current.ID,
			OrderNumber: current.OrderNumber,
			SellerID:    current.SellerID,
			BuyerEmail:  current.BuyerEmail,
			Reason:      reason,
			OpenedAt:    now,
		}, now)
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "dispute opened")
	return order, nil
}

// RequestRefund only accepts the buyer's own completed order inside the
// refund window, measured from delivery. Orders the buyer does not own are
// reported as not found.
func (s *service) RequestRefund(ctx context.Context, input RefundRequestInput) (*models.Order, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	order, err := s.Get(ctx, input.OrderID.String())
	if err != nil {
		return nil, err
	}
	if order.BuyerID == nil || *order.BuyerID != input.BuyerID || order.Status != enums.OrderStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found or not eligible for refund")
	}
	since := order.CreatedAt
	if order.DeliveredAt != nil {
		since = *order.DeliveredAt
	}
	if s.clock().Sub(since) > s.settings.RefundWindow {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund period has expired").
			WithDetails(map[string]any{"window_hours": s.settings.RefundWindow.Hours()})
	}

	buyerID := input.BuyerID
	return s.OpenDispute(ctx, DisputeInput{
		OrderID: order.ID,
		Reason:  input.Reason,
		Actor:   &outbox.ActorRef{UserID: &buyerID, Role: string(enums.RoleBuyer)},
	})
}

func (s *service) ResolveDispute(ctx context.Context, input ResolveDisputeInput) (*models.Order, error) {
	verdict, err := enums.NormalizeDisputeResolution(input.Resolution)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed").
			WithDetails(map[string]string{"resolution": "is required"})
	}
	notes, err := cleanReason(input.Notes)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := loadForUpdate(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if current.Status != enums.OrderStatusDisputed || !current.DisputeOpen {
			return stateConflict(current, "resolve a dispute on")
		}

		now := s.clock()
		resolution := string(verdict)
		resolved := map[string]any{
			"dispute_open":        false,
			"dispute_resolved_at": now,
			"dispute_resolution":  resolution,
			"dispute_notes":       nullableString(notes),
		}

		if verdict.IsRefund() {
			current, err = s.refundTx(ctx, tx, current, disputeRefundReason, input.Actor, resolved)
			if err != nil {
				return err
			}
		} else {
			resolved["status"] = enums.OrderStatusCompleted
			resolved["updated_at"] = now
			ok, err := repo.Transition(ctx, current.ID, enums.OrderStatusDisputed, resolved)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve dispute")
			}
			if !ok {
				return stateConflict(current, "resolve a dispute on")
			}
			current.Status = enums.OrderStatusCompleted
			current.UpdatedAt = now
		}
		current.DisputeOpen = false
		current.DisputeResolvedAt = &now
		current.DisputeResolution = &resolution
		current.DisputeNotes = nullableString(notes)
		order = current

		return s.emit(ctx, tx, enums.EventDisputeResolved, current, input.Actor, payloads.DisputeResolvedEvent{
			OrderID:     current.ID,
			OrderNumber: current.OrderNumber,
			SellerID:    current.SellerID,
			BuyerEmail:  current.BuyerEmail,
			Resolution:  verdict,
			Status:      current.Status,
			Notes:       notes,
			ResolvedAt:  now,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	s.logg.Info(s.logg.WithField(logCtx, "resolution", string(verdict)), "dispute resolved")
	return order, nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
