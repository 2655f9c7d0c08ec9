package sources

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dentalcare/clinic/internal/domain/billing"
)

// Aggregator answers the invoice engine's lookup and line-source ports from
// a Store.
type Aggregator struct {
	store  Store
	logger zerolog.Logger
}

var (
	_ billing.Directory  = (*Aggregator)(nil)
	_ billing.LineSource = (*Aggregator)(nil)
)

func NewAggregator(store Store, logger zerolog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

func (a *Aggregator) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return a.store.PatientExists(ctx, id)
}

func (a *Aggregator) ConsultationExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return a.store.ConsultationExists(ctx, id)
}

func (a *Aggregator) PlanExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return a.store.PlanExists(ctx, id)
}

func (a *Aggregator) HasApprovedBudget(ctx context.Context, patientID uuid.UUID) (bool, error) {
	b, err := a.store.LatestApprovedBudget(ctx, patientID)
	if err != nil {
		return false, err
	}
	return b != nil, nil
}

// ConsultationLines copies each consultation item as is.
func (a *Aggregator) ConsultationLines(ctx context.Context, consultationID uuid.UUID) ([]billing.BillableLine, error) {
	items, err := a.store.ConsultationItems(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	lines := make([]billing.BillableLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, billing.BillableLine{
			Origin:      billing.ConsultationItemOrigin{ItemID: it.ID},
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Total:       it.Total,
			Description: describe(it.ArticleDescription, it.ID),
		})
	}
	return lines, nil
}

// PlanLines prices each plan item from its budget item. Items whose budget
// item has been removed are skipped.
func (a *Aggregator) PlanLines(ctx context.Context, planID uuid.UUID) ([]billing.BillableLine, error) {
	items, err := a.store.PlanItems(ctx, planID)
	if err != nil {
		return nil, err
	}
	lines := make([]billing.BillableLine, 0, len(items))
	for _, it := range items {
		if !it.BudgetItemFound {
			ev := a.logger.Warn().
				Str("plan_id", planID.String()).
				Str("plan_item_id", it.ID.String())
			if it.BudgetItemID != nil {
				ev = ev.Str("budget_item_id", it.BudgetItemID.String())
			}
			ev.Msg("plan item references a missing budget item, skipped")
			continue
		}
		lines = append(lines, billing.BillableLine{
			Origin:      billing.PlanItemOrigin{ItemID: it.ID},
			Quantity:    it.PlannedQuantity,
			UnitPrice:   it.PatientPrice,
			Total:       it.PatientPrice.Mul(decimal.NewFromInt(int64(it.PlannedQuantity))),
			Description: describe(it.ArticleDescription, it.ID),
		})
	}
	return lines, nil
}

func describe(article *string, sourceID uuid.UUID) string {
	if article != nil && *article != "" {
		return *article
	}
	return billing.FallbackDescription(sourceID)
}
