// Package cashier runs the clinic's till: one open session at a time, point
// of sale payments against invoices and installments, and the list of what is
// still owed.
package cashier

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dentalcare/clinic/internal/domain/billing"
)

type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// Session maps to the cashier_session table.
type Session struct {
	ID            uuid.UUID           `json:"id"`
	OpenedAt      time.Time           `json:"opened_at"`
	ClosedAt      *time.Time          `json:"closed_at,omitempty"`
	OpeningAmount decimal.Decimal     `json:"opening_amount"`
	ClosingAmount decimal.NullDecimal `json:"closing_amount"`
	Status        SessionStatus       `json:"status"`
	OpenedBy      string              `json:"opened_by"`
}

// Payment maps to the cashier_payment table. Exactly one of InstallmentID and
// InvoiceID is set.
type Payment struct {
	ID            uuid.UUID             `json:"id"`
	SessionID     uuid.UUID             `json:"session_id"`
	OperatorID    string                `json:"operator_id"`
	InstallmentID *uuid.UUID            `json:"installment_id,omitempty"`
	InvoiceID     *uuid.UUID            `json:"invoice_id,omitempty"`
	Amount        decimal.Decimal       `json:"amount"`
	Method        billing.PaymentMethod `json:"method"`
	PaymentDate   time.Time             `json:"payment_date"`
	Notes         *string               `json:"notes,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
}

// PendingInvoice is an unpaid invoice as shown at the till.
type PendingInvoice struct {
	ID          uuid.UUID             `json:"id"`
	PatientName string                `json:"patient_name"`
	Type        billing.InvoiceType   `json:"type"`
	Status      billing.InvoiceStatus `json:"status"`
	Total       decimal.Decimal       `json:"total"`
	Pending     decimal.Decimal       `json:"pending"`
	IssuedAt    time.Time             `json:"issued_at"`

	// InstallmentsPaid is the sum of the invoice's installment payments.
	InstallmentsPaid decimal.Decimal `json:"-"`
}

// PendingInstallment is an unpaid installment as shown at the till.
type PendingInstallment struct {
	ID            uuid.UUID                 `json:"id"`
	InvoiceID     uuid.UUID                 `json:"invoice_id"`
	Sequence      int                       `json:"sequence"`
	PlannedAmount decimal.Decimal           `json:"planned_amount"`
	PaidAmount    decimal.NullDecimal       `json:"paid_amount"`
	Pending       decimal.Decimal           `json:"pending"`
	DueDate       billing.Date              `json:"due_date"`
	Status        billing.InstallmentStatus `json:"status"`
}

type Pending struct {
	Invoices     []*PendingInvoice     `json:"invoices"`
	Installments []*PendingInstallment `json:"installments"`
}

// accountedFor is how much of an invoice the till treats as already settled.
// Consultation invoices are settled whole, so nothing counts until then.
func (p *PendingInvoice) accountedFor() decimal.Decimal {
	if p.Type == billing.TypePlan {
		return p.InstallmentsPaid
	}
	return decimal.Zero
}

func (p *PendingInvoice) computePending() {
	p.Pending = p.Total.Sub(p.accountedFor())
}

func (p *PendingInstallment) computePending() {
	paid := decimal.Zero
	if p.PaidAmount.Valid {
		paid = p.PaidAmount.Decimal
	}
	p.Pending = p.PlannedAmount.Sub(paid)
}
