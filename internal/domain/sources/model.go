// Package sources turns consultations and treatment plans, which are owned by
// other services, into billable lines for the invoice engine.
package sources

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const BudgetApproved = "approved"

// ConsultationItem is a consultation_item row joined with its article.
type ConsultationItem struct {
	ID                 uuid.UUID
	ConsultationID     uuid.UUID
	ArticleID          *uuid.UUID
	ArticleDescription *string
	Quantity           int
	UnitPrice          decimal.Decimal
	Total              decimal.Decimal
}

// PlanItem is a plan_item row joined with its budget item and article.
// BudgetItemFound is false when the referenced budget item no longer exists.
type PlanItem struct {
	ID                 uuid.UUID
	PlanID             uuid.UUID
	BudgetItemID       *uuid.UUID
	BudgetItemFound    bool
	PlannedQuantity    int
	PatientPrice       decimal.Decimal
	ArticleDescription *string
}

type Budget struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Status    string
	IssuedOn  time.Time
}
