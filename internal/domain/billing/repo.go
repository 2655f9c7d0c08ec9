package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceRepository is the single store for the invoice aggregate: the
// invoice row and its line items, installments and direct payments. Every
// engine that changes an invoice goes through it.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetForUpdate reads the invoice and locks it for the rest of the
	// transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// FindOpenByPlan returns the pending or partial invoice for a plan, or
	// nil when there is none.
	FindOpenByPlan(ctx context.Context, planID uuid.UUID) (*Invoice, error)
	// LockPlan serializes invoice creation for one plan until the
	// transaction ends.
	LockPlan(ctx context.Context, planID uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Invoice, int, error)
	SetTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error
	// IncrementTotal adds delta to the stored total and returns the new value.
	IncrementTotal(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
	SetStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) error

	// Line Items
	AddLineItem(ctx context.Context, li *LineItem) error
	GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error)

	// Installments
	CreateInstallments(ctx context.Context, items []*Installment) error
	CountInstallments(ctx context.Context, invoiceID uuid.UUID) (int, error)
	GetInstallment(ctx context.Context, id uuid.UUID) (*Installment, error)
	GetInstallmentForUpdate(ctx context.Context, id uuid.UUID) (*Installment, error)
	UpdateInstallmentPayment(ctx context.Context, in *Installment) error
	ListInstallments(ctx context.Context, invoiceID uuid.UUID) ([]*Installment, error)
	SumInstallmentsPaid(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error)

	// Direct Payments
	AddDirectPayment(ctx context.Context, p *DirectPayment) error
	ListDirectPayments(ctx context.Context, invoiceID uuid.UUID) ([]*DirectPayment, error)
	SumDirectPayments(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error)
}

// Directory answers existence questions about records owned by the patient,
// consultation, treatment-plan and budget services.
type Directory interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
	ConsultationExists(ctx context.Context, id uuid.UUID) (bool, error)
	PlanExists(ctx context.Context, id uuid.UUID) (bool, error)
	HasApprovedBudget(ctx context.Context, patientID uuid.UUID) (bool, error)
}

// LineSource turns a consultation or a treatment plan into billable lines.
type LineSource interface {
	ConsultationLines(ctx context.Context, consultationID uuid.UUID) ([]BillableLine, error)
	PlanLines(ctx context.Context, planID uuid.UUID) ([]BillableLine, error)
}

// PriceResolver looks up the patient-facing unit price of an article for a
// payer entity.
type PriceResolver interface {
	UnitPrice(ctx context.Context, articleID, entityID uuid.UUID) (decimal.Decimal, error)
}
