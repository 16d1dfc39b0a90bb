package admin

import (
	"context"
	"net/http"

	ordercontrollers "github.com/angelmondragon/keymarket-backend/api/controllers/orders"
	"github.com/angelmondragon/keymarket-backend/api/middleware"
	"github.com/angelmondragon/keymarket-backend/api/responses"
	"github.com/angelmondragon/keymarket-backend/api/validators"
	internalorders "github.com/angelmondragon/keymarket-backend/internal/orders"
	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
	"github.com/angelmondragon/keymarket-backend/pkg/pagination"
)

// DisputeDesk is the ledger surface administrators act through.
type DisputeDesk interface {
	Get(ctx context.Context, ref string) (*models.Order, error)
	ListDisputes(ctx context.Context, input internalorders.ListDisputesInput) (*internalorders.DisputePage, error)
	ResolveDispute(ctx context.Context, input internalorders.ResolveDisputeInput) (*models.Order, error)
	Refund(ctx context.Context, input internalorders.RefundInput) (*models.Order, error)
}

type disputeList struct {
	Items      []ordercontrollers.OrderView `json:"items"`
	NextCursor string                       `json:"nextCursor,omitempty"`
}

// ListDisputes pages through disputes, newest first. status is open,
// resolved or all (default open).
func ListDisputes(svc DisputeDesk, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.QueryString(r, "status")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor, err := validators.QueryString(r, "cursor")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListDisputes(r.Context(), internalorders.ListDisputesInput{
			Status: status,
			Params: pagination.Params{Limit: limit, Cursor: cursor},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, disputeList{
			Items:      ordercontrollers.NewOrderViews(page.Items),
			NextCursor: page.NextCursor,
		})
	}
}

type resolveRequest struct {
	Resolution string `json:"resolution" validate:"required,max=32"`
	Notes      string `json:"notes" validate:"max=2000"`
}

// ResolveDispute records the verdict. A refund verdict refunds the order and
// returns the key to stock.
func ResolveDispute(svc DisputeDesk, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := validators.PathRef(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req resolveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), ref)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		updated, err := svc.ResolveDispute(r.Context(), internalorders.ResolveDisputeInput{
			OrderID:    order.ID,
			Resolution: req.Resolution,
			Notes:      req.Notes,
			Actor:      middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ordercontrollers.NewOrderView(updated, true))
	}
}

type refundRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// RefundOrder refunds a completed order directly, without a dispute.
func RefundOrder(svc DisputeDesk, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := validators.PathRef(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), ref)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		updated, err := svc.Refund(r.Context(), internalorders.RefundInput{
			OrderID: order.ID,
			Reason:  req.Reason,
			Actor:   middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ordercontrollers.NewOrderView(updated, true))
	}
}
