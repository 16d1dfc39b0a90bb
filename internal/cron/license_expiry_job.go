package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/keymarket-backend/internal/inventory"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
)

type staleKeyExpirer interface {
	ExpireStale(ctx context.Context) (*inventory.ExpireResult, error)
}

type LicenseExpiryJobParams struct {
	Logger    *logger.Logger
	Inventory staleKeyExpirer
}

// NewLicenseExpiryJob deactivates license keys past their own expiry.
// Orders are never touched.
func NewLicenseExpiryJob(params LicenseExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory allocator required")
	}
	return &licenseExpiryJob{logg: params.Logger, inventory: params.Inventory}, nil
}

type licenseExpiryJob struct {
	logg      *logger.Logger
	inventory staleKeyExpirer
}

func (j *licenseExpiryJob) Name() string { return "license-expiry" }

func (j *licenseExpiryJob) Run(ctx context.Context) (int64, error) {
	res, err := j.inventory.ExpireStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("expire license keys: %w", err)
	}
	if res.Deactivated > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"keys_deactivated": res.Deactivated,
			"products":         res.Products,
		}), "expired license keys deactivated")
	}
	return res.Deactivated, nil
}
