package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/keymarket-backend/pkg/enums"
)

// ErrTransactionNotFound is returned by LookupTransaction for unknown ids.
var ErrTransactionNotFound = errors.New("transaction not found")

// AddressRequest asks the gateway for a deposit address bound to one order.
type AddressRequest struct {
	OrderID   uuid.UUID
	Amount    decimal.Decimal
	Currency  enums.Currency
	ExpiresAt time.Time
}

// Transaction is the gateway's view of an on-chain payment.
type Transaction struct {
	ID            string          `json:"id"`
	Address       string          `json:"address"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int             `json:"confirmations"`
	ObservedAt    time.Time       `json:"observed_at"`
}

// Gateway is the payment processor collaborator. Address derivation and
// chain monitoring live behind it.
type Gateway interface {
	CreatePaymentAddress(ctx context.Context, req AddressRequest) (string, error)
	LookupTransaction(ctx context.Context, txID string) (*Transaction, error)
}
