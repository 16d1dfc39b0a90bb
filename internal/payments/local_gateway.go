package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/angelmondragon/keymarket-backend/pkg/redis"
)

const (
	addressPrefix    = "LTC"
	addressBytes     = 15
	addressInfo      = "keymarket/deposit-address/v1"
	gatewayTxKind    = "tx"
	defaultTxTTL     = 24 * time.Hour
	simulatedTxIDLen = 64
)

// GatewayStore is the redis surface the local gateway keeps simulated
// transactions in.
type GatewayStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	GatewayKey(kind, id string) string
}

// LocalGateway derives deposit addresses from a master key and records
// simulated transactions in redis. It stands in for a chain watcher outside
// production.
type LocalGateway struct {
	store     GatewayStore
	masterKey []byte
	txTTL     time.Duration
	now       func() time.Time
}

func NewLocalGateway(store GatewayStore, masterKey string, txTTL time.Duration) (*LocalGateway, error) {
	if store == nil {
		return nil, errors.New("gateway store is required")
	}
	if strings.TrimSpace(masterKey) == "" {
		return nil, errors.New("address master key is required")
	}
	if txTTL <= 0 {
		txTTL = defaultTxTTL
	}
	return &LocalGateway{
		store:     store,
		masterKey: []byte(masterKey),
		txTTL:     txTTL,
		now:       time.Now,
	}, nil
}

// CreatePaymentAddress returns the same address for the same order every time.
func (g *LocalGateway) CreatePaymentAddress(_ context.Context, req AddressRequest) (string, error) {
	if req.OrderID == uuid.Nil {
		return "", errors.New("order id is required")
	}
	return g.deriveAddress(req.OrderID)
}

func (g *LocalGateway) deriveAddress(orderID uuid.UUID) (string, error) {
	reader := hkdf.New(sha256.New, g.masterKey, orderID[:], []byte(addressInfo))
	buf := make([]byte, addressBytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return "", fmt.Errorf("derive address: %w", err)
	}
	return addressPrefix + hex.EncodeToString(buf), nil
}

func (g *LocalGateway) LookupTransaction(ctx context.Context, txID string) (*Transaction, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return nil, ErrTransactionNotFound
	}
	raw, err := g.store.Get(ctx, g.store.GatewayKey(gatewayTxKind, txID))
	if redis.IsNil(err) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	var tx Transaction
	if err := json.Unmarshal([]byte(raw), &tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &tx, nil
}

// Simulate records a transaction paying tx.Amount to tx.Address and returns
// it with a generated id.
func (g *LocalGateway) Simulate(ctx context.Context, tx Transaction) (*Transaction, error) {
	if strings.TrimSpace(tx.Address) == "" {
		return nil, errors.New("address is required")
	}
	if !tx.Amount.IsPositive() {
		return nil, errors.New("amount must be positive")
	}
	if tx.ID == "" {
		tx.ID = simulatedTxID()
	}
	tx.ObservedAt = g.now().UTC()
	payload, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	if err := g.store.Set(ctx, g.store.GatewayKey(gatewayTxKind, tx.ID), string(payload), g.txTTL); err != nil {
		return nil, fmt.Errorf("store transaction: %w", err)
	}
	return &tx, nil
}

func simulatedTxID() string {
	id := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	return id[:simulatedTxIDLen]
}
