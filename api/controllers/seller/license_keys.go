package seller

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/keymarket-backend/api/middleware"
	"github.com/angelmondragon/keymarket-backend/api/responses"
	"github.com/angelmondragon/keymarket-backend/api/validators"
	"github.com/angelmondragon/keymarket-backend/internal/inventory"
	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
)

type productLookup interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetSellerProduct(ctx context.Context, productID, sellerID uuid.UUID) (*models.Product, error)
}

type keyStore interface {
	BulkAdd(ctx context.Context, input inventory.BulkAddInput) (*inventory.BulkAddResult, error)
	StockCount(ctx context.Context, productID uuid.UUID) (int64, error)
}

type importKeysRequest struct {
	Keys      []string   `json:"keys"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type stockResponse struct {
	ProductID uuid.UUID `json:"productId"`
	Available int64     `json:"available"`
}

// ImportKeys bulk-adds license keys to a product the caller sells.
// Malformed keys come back in rejected; repeats are only counted.
func ImportKeys(products productLookup, keys keyStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		product, err := ownedProduct(r, products)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req importKeysRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithProductID(ctx, product.ID.String())
		}
		result, err := keys.BulkAdd(ctx, inventory.BulkAddInput{
			ProductID: product.ID,
			SellerID:  product.SellerID,
			Codes:     req.Keys,
			ExpiresAt: req.ExpiresAt,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func Stock(products productLookup, keys keyStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		product, err := ownedProduct(r, products)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		count, err := keys.StockCount(r.Context(), product.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stockResponse{ProductID: product.ID, Available: count})
	}
}

// ownedProduct loads the path product for its seller. Administrators may act
// on any product.
func ownedProduct(r *http.Request, products productLookup) (*models.Product, error) {
	productID, err := validators.PathUUID(r, "productId")
	if err != nil {
		return nil, err
	}
	callerID, ok := middleware.PrincipalID(r.Context())
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if enums.Role(middleware.RoleFromContext(r.Context())) == enums.RoleAdmin {
		return products.GetProduct(r.Context(), productID)
	}
	return products.GetSellerProduct(r.Context(), productID, callerID)
}
