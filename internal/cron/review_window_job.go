package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/keymarket-backend/pkg/logger"
)

const defaultReviewLookback = 72 * time.Hour

type reviewWindowCloser interface {
	CloseReviewWindows(ctx context.Context, asOf time.Time, lookback time.Duration) (int, error)
}

type ReviewWindowJobParams struct {
	Logger   *logger.Logger
	Orders   reviewWindowCloser
	Lookback time.Duration
}

// NewReviewWindowJob announces completed orders whose review window closed
// without a dispute. The lookback lets a worker that was down catch up.
func NewReviewWindowJob(params ReviewWindowJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order ledger required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReviewLookback
	}
	return &reviewWindowJob{logg: params.Logger, orders: params.Orders, lookback: lookback, now: time.Now}, nil
}

type reviewWindowJob struct {
	logg     *logger.Logger
	orders   reviewWindowCloser
	lookback time.Duration
	now      func() time.Time
}

func (j *reviewWindowJob) Name() string { return "review-window" }

func (j *reviewWindowJob) Run(ctx context.Context) (int64, error) {
	closed, err := j.orders.CloseReviewWindows(ctx, j.now().UTC(), j.lookback)
	if err != nil {
		return int64(closed), fmt.Errorf("close review windows: %w", err)
	}
	return int64(closed), nil
}
