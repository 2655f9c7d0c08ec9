package pricing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Service struct {
	prices PriceRepository
}

func NewService(prices PriceRepository) *Service {
	return &Service{prices: prices}
}

func (s *Service) Get(ctx context.Context, articleID, entityID uuid.UUID) (*Price, error) {
	return s.prices.Get(ctx, articleID, entityID)
}

// UnitPrice returns what the patient pays for one unit of the article under
// the given payer entity.
func (s *Service) UnitPrice(ctx context.Context, articleID, entityID uuid.UUID) (decimal.Decimal, error) {
	p, err := s.prices.Get(ctx, articleID, entityID)
	if err != nil {
		return decimal.Zero, err
	}
	return p.PatientPrice, nil
}
