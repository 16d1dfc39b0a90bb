package orders

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/keymarket-backend/api/middleware"
	"github.com/angelmondragon/keymarket-backend/api/responses"
	"github.com/angelmondragon/keymarket-backend/api/validators"
	"github.com/angelmondragon/keymarket-backend/internal/checkout"
	internalorders "github.com/angelmondragon/keymarket-backend/internal/orders"
	"github.com/angelmondragon/keymarket-backend/internal/payments"
	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
)

const maxEventBytes = 64 << 10

type purchaser interface {
	Purchase(ctx context.Context, input checkout.PurchaseInput) (*checkout.PurchaseResult, error)
}

// Reader is the order lookup every order controller needs.
type Reader interface {
	Get(ctx context.Context, ref string) (*models.Order, error)
	ExpireIfDue(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type refundRequester interface {
	Reader
	RequestRefund(ctx context.Context, input internalorders.RefundRequestInput) (*models.Order, error)
}

// PaymentHandler is the idempotent reconciliation edge.
type PaymentHandler interface {
	Authenticate(ctx context.Context, event *payments.Event) error
	Handle(ctx context.Context, event payments.Event) (*payments.Result, bool, error)
}

type createOrderRequest struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Email     string `json:"email" validate:"omitempty,email,max=254"`
}

// Create is order intake. Anonymous buyers identify themselves by email; an
// authenticated buyer's token email is used when the body has none.
func Create(svc purchaser, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		email := strings.TrimSpace(req.Email)
		if email == "" {
			email = middleware.EmailFromContext(r.Context())
		}
		if email == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
				WithDetails(map[string]string{"email": "is required"}))
			return
		}

		productID, err := uuid.Parse(req.ProductID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid productId"))
			return
		}

		input := checkout.PurchaseInput{
			ProductID: productID,
			Email:     email,
			Actor:     middleware.ActorFromContext(r.Context()),
		}
		if id, ok := middleware.PrincipalID(r.Context()); ok && enums.Role(middleware.RoleFromContext(r.Context())) == enums.RoleBuyer {
			input.BuyerID = &id
		}

		result, err := svc.Purchase(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type paymentStatusResponse struct {
	OrderID       uuid.UUID           `json:"orderId"`
	OrderNumber   string              `json:"orderNumber"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"paymentStatus"`
	ExpiresAt     time.Time           `json:"expiresAt"`
}

// PaymentStatus is polled by the checkout page. Reading it past the deadline
// expires the order.
func PaymentStatus(svc Reader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := validators.PathRef(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), ref)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err = svc.ExpireIfDue(r.Context(), order.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, paymentStatusResponse{
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			Status:        order.Status,
			PaymentStatus: order.PaymentStatus,
			ExpiresAt:     order.PaymentExpiresAt,
		})
	}
}

// Detail returns the order to its buyer, its seller or an administrator.
// Anyone else gets a 404 so order ids cannot be probed.
func Detail(svc Reader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := validators.PathRef(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), ref)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		principal, _ := middleware.PrincipalID(r.Context())
		role := enums.Role(middleware.RoleFromContext(r.Context()))
		isBuyer := order.BuyerID != nil && *order.BuyerID == principal
		isSeller := order.SellerID == principal
		isAdmin := role == enums.RoleAdmin
		if !isBuyer && !isSeller && !isAdmin {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}

		responses.WriteSuccess(w, NewOrderView(order, isBuyer || isAdmin))
	}
}

type refundRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// RequestRefund opens a dispute on the caller's own completed order.
func RequestRefund(svc refundRequester, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, ok := middleware.PrincipalID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
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
		updated, err := svc.RequestRefund(r.Context(), internalorders.RefundRequestInput{
			OrderID: order.ID,
			BuyerID: buyerID,
			Reason:  req.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, NewOrderView(updated, true))
	}
}

type processPaymentRequest struct {
	OrderID       uuid.UUID `json:"orderId"`
	TransactionID string    `json:"transactionId"`
	Confirmations int       `json:"confirmations"`
}

// ProcessPayment is the internal reconciliation entry point. The caller
// names the order and transaction; address and amount come from the
// gateway's own record of the transaction.
func ProcessPayment(svc PaymentHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
			return
		}
		event := payments.Event{
			Source:  payments.SourceInternal,
			APIKey:  r.Header.Get(payments.APIKeyHeader),
			Payload: payload,
		}
		if err := svc.Authenticate(r.Context(), &event); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req processPaymentRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body"))
			return
		}
		if req.OrderID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
				WithDetails(map[string]string{"orderId": "is required"}))
			return
		}
		if req.Confirmations < 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
				WithDetails(map[string]string{"confirmations": "must be greater than or equal to 0"}))
			return
		}

		orderID := req.OrderID
		event.OrderID = &orderID
		event.TransactionID = req.TransactionID
		event.Confirmations = req.Confirmations

		WritePaymentResult(w, r, logg, svc, event)
	}
}

type duplicateResponse struct {
	Duplicate     bool   `json:"duplicate"`
	TransactionID string `json:"transactionId"`
}

// WritePaymentResult runs the event through svc and writes the outcome.
func WritePaymentResult(w http.ResponseWriter, r *http.Request, logg *logger.Logger, svc PaymentHandler, event payments.Event) {
	result, duplicate, err := svc.Handle(r.Context(), event)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	if duplicate {
		responses.WriteSuccess(w, duplicateResponse{Duplicate: true, TransactionID: strings.TrimSpace(event.TransactionID)})
		return
	}
	responses.WriteSuccess(w, result)
}
