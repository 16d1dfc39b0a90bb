package payments

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value.(string)
	return nil
}

func (m *memoryStore) GatewayKey(kind, id string) string {
	return "km:gateway:" + kind + ":" + id
}

func TestLocalGatewayDerivesStableAddresses(t *testing.T) {
	gw, err := NewLocalGateway(newMemoryStore(), "master-secret", time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	orderID := uuid.New()

	first, err := gw.CreatePaymentAddress(ctx, AddressRequest{OrderID: orderID})
	require.NoError(t, err)
	second, err := gw.CreatePaymentAddress(ctx, AddressRequest{OrderID: orderID})
	require.NoError(t, err)
	other, err := gw.CreatePaymentAddress(ctx, AddressRequest{OrderID: uuid.New()})
	require.NoError(t, err)

	assert.Regexp(t, `^LTC[0-9a-f]{30}$`, first)
	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)

	rotated, err := NewLocalGateway(newMemoryStore(), "another-secret", time.Hour)
	require.NoError(t, err)
	third, err := rotated.CreatePaymentAddress(ctx, AddressRequest{OrderID: orderID})
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestLocalGatewaySimulateAndLookup(t *testing.T) {
	gw, err := NewLocalGateway(newMemoryStore(), "master-secret", 0)
	require.NoError(t, err)
	ctx := context.Background()

	tx, err := gw.Simulate(ctx, Transaction{Address: "LTCabc", Amount: decimal.RequireFromString("2"), Confirmations: 6})
	require.NoError(t, err)
	assert.Len(t, tx.ID, 64)

	found, err := gw.LookupTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "LTCabc", found.Address)
	assert.True(t, found.Amount.Equal(decimal.RequireFromString("2")))
	assert.Equal(t, 6, found.Confirmations)

	_, err = gw.LookupTransaction(ctx, "missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	_, err = gw.Simulate(ctx, Transaction{Address: "LTCabc"})
	assert.Error(t, err)
}

func TestNewLocalGatewayValidation(t *testing.T) {
	_, err := NewLocalGateway(nil, "secret", time.Hour)
	assert.Error(t, err)
	_, err = NewLocalGateway(newMemoryStore(), " ", time.Hour)
	assert.Error(t, err)
}

func TestHMACVerifier(t *testing.T) {
	payload := []byte(`{"transactionId":"abc","confirmations":6}`)
	signature := hex.EncodeToString(Sign([]byte("hook-secret"), payload))
	verifier := NewHMACVerifier("hook-secret")

	assert.True(t, verifier.Authenticate(&Event{Payload: payload, Signature: signature}))
	assert.False(t, verifier.Authenticate(&Event{Payload: []byte(`{"transactionId":"abd","confirmations":6}`), Signature: signature}))
	assert.False(t, verifier.Authenticate(&Event{Payload: payload, Signature: "not-hex"}))
	assert.False(t, verifier.Authenticate(&Event{Payload: payload}))
	assert.False(t, NewHMACVerifier("").Authenticate(&Event{Payload: payload, Signature: hex.EncodeToString(Sign(nil, payload))}))
}

func TestSharedSecretVerifier(t *testing.T) {
	verifier := NewSharedSecretVerifier("internal-key")
	assert.True(t, verifier.Authenticate(&Event{APIKey: "internal-key"}))
	assert.False(t, verifier.Authenticate(&Event{APIKey: "internal-key2"}))
	assert.False(t, verifier.Authenticate(&Event{}))
	assert.False(t, NewSharedSecretVerifier("").Authenticate(&Event{APIKey: ""}))
}
