package orders

import (
	"context"

	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/pagination"
)

// DisputePage is one page of the admin dispute desk.
type DisputePage = pagination.Page[models.Order]

type ListDisputesInput struct {
	Status string
	Params pagination.Params
}

func (s *service) ListDisputes(ctx context.Context, input ListDisputesInput) (*DisputePage, error) {
	filter, err := enums.ParseDisputeFilter(input.Status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid dispute status filter")
	}
	cursor, err := pagination.ParseCursor(input.Params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListDisputes(ctx, filter, cursor, pagination.LimitWithBuffer(input.Params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list disputes")
	}
	page := pagination.BuildPage(rows, input.Params.Limit, func(order models.Order) pagination.Cursor {
		return pagination.Cursor{At: *order.DisputeOpenedAt, ID: order.ID}
	})
	return &page, nil
}
