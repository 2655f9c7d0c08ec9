package sources

import (
	"context"

	"github.com/google/uuid"
)

// Store reads the collaborator tables.
type Store interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
	ConsultationExists(ctx context.Context, id uuid.UUID) (bool, error)
	PlanExists(ctx context.Context, id uuid.UUID) (bool, error)
	// LatestApprovedBudget returns nil when the patient has no approved budget.
	LatestApprovedBudget(ctx context.Context, patientID uuid.UUID) (*Budget, error)
	ConsultationItems(ctx context.Context, consultationID uuid.UUID) ([]ConsultationItem, error)
	PlanItems(ctx context.Context, planID uuid.UUID) ([]PlanItem, error)
}
