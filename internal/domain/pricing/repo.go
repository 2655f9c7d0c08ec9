package pricing

import (
	"context"

	"github.com/google/uuid"
)

type PriceRepository interface {
	Get(ctx context.Context, articleID, entityID uuid.UUID) (*Price, error)
}
