package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ordercontrollers "github.com/angelmondragon/keymarket-backend/api/controllers/orders"
	"github.com/angelmondragon/keymarket-backend/api/responses"
	"github.com/angelmondragon/keymarket-backend/api/validators"
	internalpayments "github.com/angelmondragon/keymarket-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
)

const maxWebhookBytes = 64 << 10

type detailsReader interface {
	PaymentDetails(ctx context.Context, ref string) (*internalpayments.PaymentDetails, error)
}

type simulator interface {
	SimulatePayment(ctx context.Context, orderID uuid.UUID) (*internalpayments.Result, error)
}

// Details returns what the buyer needs to pay: address, amount and a wallet
// URI. Past the deadline the order is expired first.
func Details(svc detailsReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := validators.PathRef(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		details, err := svc.PaymentDetails(r.Context(), ref)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, details)
	}
}

type webhookPayload struct {
	TransactionID string              `json:"transactionId"`
	Address       string              `json:"address"`
	Amount        decimal.NullDecimal `json:"amount"`
	Confirmations int                 `json:"confirmations"`
	Status        string              `json:"status"`
}

// Webhook accepts gateway pushes. The signature covers the raw body, so it
// is verified before the payload is parsed. Unknown fields are tolerated.
func Webhook(svc ordercontrollers.PaymentHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body"))
			return
		}

		event := internalpayments.Event{
			Source:    internalpayments.SourceWebhook,
			Signature: r.Header.Get(internalpayments.SignatureHeader),
			Payload:   payload,
		}
		if err := svc.Authenticate(r.Context(), &event); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body webhookPayload
		if err := json.Unmarshal(payload, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload"))
			return
		}
		if body.Confirmations < 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "confirmations must not be negative"))
			return
		}

		ctx := r.Context()
		if status := strings.TrimSpace(body.Status); status != "" && logg != nil {
			ctx = logg.WithField(ctx, "gateway_status", status)
			r = r.WithContext(ctx)
		}

		event.TransactionID = body.TransactionID
		event.Address = strings.TrimSpace(body.Address)
		event.Amount = body.Amount
		event.Confirmations = body.Confirmations

		ordercontrollers.WritePaymentResult(w, r, logg, svc, event)
	}
}

type simulateRequest struct {
	OrderID string `json:"orderId" validate:"required,max=64"`
}

// Simulate settles an order with a synthetic, fully confirmed transaction.
// Only mounted outside production.
func Simulate(orders ordercontrollers.Reader, svc simulator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req simulateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := orders.Get(r.Context(), strings.TrimSpace(req.OrderID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.SimulatePayment(r.Context(), order.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
