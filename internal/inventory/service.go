package inventory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
	"github.com/angelmondragon/keymarket-backend/pkg/metrics"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox/payloads"
)

const (
	maxClaimAttempts  = 32
	maxBulkAddCodes   = 1000
	maxCodeLength     = 255
	defaultExpiryScan = 500
	expiredNote       = "Deactivated due to expiration"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the allocator for license keys.
type Service interface {
	ReserveCheck(ctx context.Context, productID uuid.UUID) (bool, error)
	StockCount(ctx context.Context, productID uuid.UUID) (int64, error)
	Assign(ctx context.Context, productID, orderID uuid.UUID, buyerID *uuid.UUID) (*models.LicenseKey, error)
	AssignTx(ctx context.Context, tx *gorm.DB, productID, orderID uuid.UUID, buyerID *uuid.UUID) (*models.LicenseKey, error)
	Release(ctx context.Context, keyID uuid.UUID) error
	ReleaseTx(ctx context.Context, tx *gorm.DB, keyID uuid.UUID) (bool, error)
	BulkAdd(ctx context.Context, input BulkAddInput) (*BulkAddResult, error)
	ExpireStale(ctx context.Context) (*ExpireResult, error)
}

// ServiceParams wires the allocator.
type ServiceParams struct {
	Repo        Repository
	TxRunner    txRunner
	Outbox      outbox.Emitter
	Metrics     *metrics.AllocatorMetrics
	Logger      *logger.Logger
	ExpiryBatch int
	Clock       func() time.Time
}

type service struct {
	repo        Repository
	tx          txRunner
	outbox      outbox.Emitter
	metrics     *metrics.AllocatorMetrics
	logg        *logger.Logger
	expiryBatch int
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("inventory repository required")
	case params.TxRunner == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	batch := params.ExpiryBatch
	if batch <= 0 {
		batch = defaultExpiryScan
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:        params.Repo,
		tx:          params.TxRunner,
		outbox:      params.Outbox,
		metrics:     params.Metrics,
		logg:        params.Logger,
		expiryBatch: batch,
		now:         now,
	}, nil
}

// ReserveCheck is a read-only pre-check. It does not hold stock; Assign can
// still fail afterwards.
func (s *service) ReserveCheck(ctx context.Context, productID uuid.UUID) (bool, error) {
	count, err := s.StockCount(ctx, productID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *service) StockCount(ctx context.Context, productID uuid.UUID) (int64, error) {
	if productID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	count, err := s.repo.CountAvailable(ctx, productID, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count available license keys")
	}
	return count, nil
}

func (s *service) Assign(ctx context.Context, productID, orderID uuid.UUID, buyerID *uuid.UUID) (*models.LicenseKey, error) {
	var key *models.LicenseKey
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		key, err = s.AssignTx(ctx, tx, productID, orderID, buyerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

// AssignTx claims one available key for the order inside tx. A claim that
// loses to a concurrent transaction retries with the next candidate. Only a
// pool that is still empty after waiting on locked rows fails with
// OUT_OF_STOCK.
func (s *service) AssignTx(ctx context.Context, tx *gorm.DB, productID, orderID uuid.UUID, buyerID *uuid.UUID) (*models.LicenseKey, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "assign requires a transaction")
	}
	if productID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id and order id are required")
	}
	repo := s.repo.WithTx(tx)

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		now := s.now().UTC()
		candidate, err := repo.FindCandidate(ctx, productID, now)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Every free row may be held by a claimer that is about to roll back.
			candidate, err = repo.WaitForCandidate(ctx, productID, now)
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.metrics.IncAssign(metrics.AssignResultOutOfStock)
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"product_id": productID.String(),
				"order_id":   orderID.String(),
			})
			s.logg.Warn(logCtx, "license key pool exhausted")
			return nil, pkgerrors.New(pkgerrors.CodeOutOfStock, "no license keys available").
				WithDetails(map[string]any{"product_id": productID})
		}
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "select license key")
		}

		won, err := repo.MarkUsed(ctx, candidate.ID, orderID, buyerID, now)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim license key")
		}
		if !won {
			continue
		}

		candidate.IsUsed = true
		candidate.OrderID = &orderID
		candidate.BuyerID = buyerID
		candidate.UsedAt = &now
		s.metrics.IncAssign(metrics.AssignResultAssigned)
		return candidate, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "license key claim contention, retry")
}

func (s *service) Release(ctx context.Context, keyID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.ReleaseTx(ctx, tx, keyID)
		return err
	})
}

// ReleaseTx returns a used key to the pool. Releasing a key that is already
// available reports false and changes nothing.
func (s *service) ReleaseTx(ctx context.Context, tx *gorm.DB, keyID uuid.UUID) (bool, error) {
	if tx == nil {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "release requires a transaction")
	}
	if keyID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "license key id is required")
	}
	released, err := s.repo.WithTx(tx).MarkAvailable(ctx, keyID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release license key")
	}
	if !released {
		s.logg.Info(s.logg.WithField(ctx, "license_key_id", keyID.String()), "license key already available")
	}
	return released, nil
}

// BulkAddInput is a seller's key import for one product.
type BulkAddInput struct {
	ProductID uuid.UUID
	SellerID  uuid.UUID
	Codes     []string
	ExpiresAt *time.Time
}

// BulkAddResult reports partial success. Duplicates counts codes repeated in
// the batch and codes that already exist.
type BulkAddResult struct {
	Added      int      `json:"added"`
	Duplicates int      `json:"duplicates"`
	Rejected   []string `json:"rejected"`
}

func (s *service) BulkAdd(ctx context.Context, input BulkAddInput) (*BulkAddResult, error) {
	if input.ProductID == uuid.Nil || input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id and seller id are required")
	}
	if len(input.Codes) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "keys must be a non-empty array")
	}
	if len(input.Codes) > maxBulkAddCodes {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d keys per import", maxBulkAddCodes))
	}

	result := &BulkAddResult{Rejected: []string{}}
	seen := make(map[string]struct{}, len(input.Codes))
	rows := make([]models.LicenseKey, 0, len(input.Codes))
	var expiresAt *time.Time
	if input.ExpiresAt != nil {
		utc := input.ExpiresAt.UTC()
		expiresAt = &utc
	}

	for _, raw := range input.Codes {
		code := strings.TrimSpace(raw)
		if code == "" || len(code) > maxCodeLength || !codePattern.MatchString(code) {
			result.Rejected = append(result.Rejected, raw)
			continue
		}
		if _, dup := seen[code]; dup {
			result.Duplicates++
			continue
		}
		seen[code] = struct{}{}
		rows = append(rows, models.LicenseKey{
			ProductID: input.ProductID,
			SellerID:  input.SellerID,
			Code:      code,
			IsActive:  true,
			ExpiresAt: expiresAt,
		})
	}

	inserted, err := s.repo.InsertIgnoringDuplicates(ctx, rows)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert license keys")
	}
	result.Added = int(inserted)
	result.Duplicates += len(rows) - result.Added
	s.metrics.AddImported(result.Added)

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"product_id": input.ProductID.String(),
		"added":      result.Added,
		"duplicates": result.Duplicates,
		"rejected":   len(result.Rejected),
	})
	s.logg.Info(logCtx, "license keys imported")
	return result, nil
}

// ExpireResult summarizes one expiry sweep.
type ExpireResult struct {
	Deactivated int64
	Products    int
}

type productKey struct {
	productID uuid.UUID
	sellerID  uuid.UUID
}

// ExpireStale deactivates every active key past its expiry, used or not, and
// emits one license_keys_expired event per product and batch. Order state is
// never touched.
func (s *service) ExpireStale(ctx context.Context) (*ExpireResult, error) {
	result := &ExpireResult{}
	products := map[uuid.UUID]struct{}{}

	for {
		var batchSize int
		var deactivated int64
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			now := s.now().UTC()
			repo := s.repo.WithTx(tx)
			keys, err := repo.FindExpired(ctx, now, s.expiryBatch)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find expired license keys")
			}
			batchSize = len(keys)
			if batchSize == 0 {
				return nil
			}

			ids := make([]uuid.UUID, 0, len(keys))
			counts := map[productKey]int64{}
			order := make([]productKey, 0)
			for _, key := range keys {
				ids = append(ids, key.ID)
				pk := productKey{productID: key.ProductID, sellerID: key.SellerID}
				if _, ok := counts[pk]; !ok {
					order = append(order, pk)
				}
				counts[pk]++
			}

			deactivated, err = repo.Deactivate(ctx, ids, expiredNote)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate license keys")
			}
			for _, pk := range order {
				event := outbox.DomainEvent{
					EventType:     enums.EventLicenseKeysExpired,
					AggregateType: enums.AggregateProduct,
					AggregateID:   pk.productID,
					Actor:         outbox.SystemActor("sweeper"),
					Data: payloads.LicenseKeysExpiredEvent{
						ProductID: pk.productID,
						SellerID:  pk.sellerID,
						Count:     counts[pk],
						ExpiredAt: now,
					},
					OccurredAt: now,
				}
				if err := s.outbox.Emit(ctx, tx, event); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit license_keys_expired")
				}
				products[pk.productID] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		result.Deactivated += deactivated
		if batchSize < s.expiryBatch || deactivated == 0 {
			break
		}
	}

	result.Products = len(products)
	s.metrics.AddExpired(result.Deactivated)
	if result.Deactivated > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"deactivated": result.Deactivated,
			"products":    result.Products,
		})
		s.logg.Info(logCtx, "expired license keys deactivated")
	}
	return result, nil
}
