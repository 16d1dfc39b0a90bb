package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/keymarket-backend/pkg/logger"
)

type pendingOrderExpirer interface {
	ExpirePending(ctx context.Context, asOf time.Time) (int64, error)
}

type OrderExpiryJobParams struct {
	Logger *logger.Logger
	Orders pendingOrderExpirer
}

// NewOrderExpiryJob fails pending orders whose payment window has closed.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order ledger required")
	}
	return &orderExpiryJob{logg: params.Logger, orders: params.Orders, now: time.Now}, nil
}

type orderExpiryJob struct {
	logg   *logger.Logger
	orders pendingOrderExpirer
	now    func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) (int64, error) {
	asOf := j.now().UTC()
	expired, err := j.orders.ExpirePending(ctx, asOf)
	if err != nil {
		return expired, fmt.Errorf("expire pending orders: %w", err)
	}
	if expired > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"as_of":          asOf,
			"orders_expired": expired,
		}), "pending orders expired")
	}
	return expired, nil
}
