package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceType string

const (
	TypeConsultation InvoiceType = "consultation"
	TypePlan         InvoiceType = "plan"
)

func (t InvoiceType) Valid() bool {
	return t == TypeConsultation || t == TypePlan
}

// OriginKind is the kind of line item an invoice of this type accepts.
func (t InvoiceType) OriginKind() OriginKind {
	if t == TypePlan {
		return OriginPlanItem
	}
	return OriginConsultationItem
}

type InvoiceStatus string

const (
	StatusPending   InvoiceStatus = "pending"
	StatusPartial   InvoiceStatus = "partial"
	StatusPaid      InvoiceStatus = "paid"
	StatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPartial, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Open reports whether the invoice still accepts payments.
func (s InvoiceStatus) Open() bool {
	return s == StatusPending || s == StatusPartial
}

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPartial InstallmentStatus = "partial"
	InstallmentPaid    InstallmentStatus = "paid"
)

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodCard     PaymentMethod = "card"
	MethodTransfer PaymentMethod = "transfer"
	MethodMBWay    PaymentMethod = "mbway"
	MethodCheque   PaymentMethod = "cheque"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodTransfer, MethodMBWay, MethodCheque:
		return true
	}
	return false
}

// MoneyScale is the number of decimal places stored for every amount
// (NUMERIC(12,2)).
const MoneyScale = 2

// IsCents reports whether d can be stored without rounding.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}

// Invoice maps to the invoice table.
type Invoice struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	PatientID      uuid.UUID       `db:"patient_id" json:"patient_id"`
	Type           InvoiceType     `db:"type" json:"type"`
	ConsultationID *uuid.UUID      `db:"consultation_id" json:"consultation_id,omitempty"`
	PlanID         *uuid.UUID      `db:"plan_id" json:"plan_id,omitempty"`
	Total          decimal.Decimal `db:"total" json:"total"`
	Status         InvoiceStatus   `db:"status" json:"status"`
	IssuedAt       time.Time       `db:"issued_at" json:"issued_at"`
	Version        int             `db:"version" json:"version"`
	LineItems      []*LineItem     `db:"-" json:"line_items,omitempty"`
}

// OriginKind tags where a line item was copied from.
type OriginKind string

const (
	OriginConsultationItem OriginKind = "consultation_item"
	OriginPlanItem         OriginKind = "plan_item"
)

// Origin identifies the source record of a line item. The two variants are
// ConsultationItemOrigin and PlanItemOrigin.
type Origin interface {
	Kind() OriginKind
	SourceID() uuid.UUID
}

type ConsultationItemOrigin struct{ ItemID uuid.UUID }

func (o ConsultationItemOrigin) Kind() OriginKind    { return OriginConsultationItem }
func (o ConsultationItemOrigin) SourceID() uuid.UUID { return o.ItemID }

type PlanItemOrigin struct{ ItemID uuid.UUID }

func (o PlanItemOrigin) Kind() OriginKind    { return OriginPlanItem }
func (o PlanItemOrigin) SourceID() uuid.UUID { return o.ItemID }

// ParseOrigin rebuilds an Origin from its stored kind and id.
func ParseOrigin(kind string, id uuid.UUID) (Origin, error) {
	switch OriginKind(kind) {
	case OriginConsultationItem:
		return ConsultationItemOrigin{ItemID: id}, nil
	case OriginPlanItem:
		return PlanItemOrigin{ItemID: id}, nil
	}
	return nil, fmt.Errorf("unknown origin kind %q (must be %q or %q)", kind, OriginConsultationItem, OriginPlanItem)
}

// LineItem maps to the invoice_line_item table.
type LineItem struct {
	ID          uuid.UUID
	InvoiceID   uuid.UUID
	Origin      Origin
	Quantity    int
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
	Description string
	CreatedAt   time.Time
}

// NewLineItem builds a line whose total is quantity × unit price.
func NewLineItem(invoiceID uuid.UUID, origin Origin, quantity int, unitPrice decimal.Decimal, description string) *LineItem {
	li := &LineItem{
		InvoiceID:   invoiceID,
		Origin:      origin,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Description: description,
	}
	li.Recompute()
	return li
}

// Recompute sets Total from Quantity and UnitPrice.
func (li *LineItem) Recompute() {
	li.Total = li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type lineItemJSON struct {
	ID          uuid.UUID       `json:"id"`
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	OriginKind  OriginKind      `json:"origin_kind"`
	OriginID    uuid.UUID       `json:"origin_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (li LineItem) MarshalJSON() ([]byte, error) {
	out := lineItemJSON{
		ID:          li.ID,
		InvoiceID:   li.InvoiceID,
		Quantity:    li.Quantity,
		UnitPrice:   li.UnitPrice,
		Total:       li.Total,
		Description: li.Description,
		CreatedAt:   li.CreatedAt,
	}
	if li.Origin != nil {
		out.OriginKind = li.Origin.Kind()
		out.OriginID = li.Origin.SourceID()
	}
	return json.Marshal(out)
}

// BillableLine is a line produced by a source aggregator before it is
// attached to an invoice.
type BillableLine struct {
	Origin      Origin
	Quantity    int
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
	Description string
}

// FallbackDescription labels a line whose article link is missing.
func FallbackDescription(sourceID uuid.UUID) string {
	return "Procedure #" + sourceID.String()
}

// Date is a calendar date serialized as YYYY-MM-DD.
type Date struct{ time.Time }

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Installment maps to the installment table.
type Installment struct {
	ID            uuid.UUID           `json:"id"`
	InvoiceID     uuid.UUID           `json:"invoice_id"`
	Sequence      int                 `json:"sequence"`
	PlannedAmount decimal.Decimal     `json:"planned_amount"`
	PaidAmount    decimal.NullDecimal `json:"paid_amount"`
	DueDate       Date                `json:"due_date"`
	PaymentDate   *time.Time          `json:"payment_date,omitempty"`
	PaymentMethod *PaymentMethod      `json:"payment_method,omitempty"`
	Notes         *string             `json:"notes,omitempty"`
	Status        InstallmentStatus   `json:"status"`
}

// Paid returns the paid amount, treating null as zero.
func (in *Installment) Paid() decimal.Decimal {
	if in.PaidAmount.Valid {
		return in.PaidAmount.Decimal
	}
	return decimal.Zero
}

// Outstanding is the planned amount not yet paid.
func (in *Installment) Outstanding() decimal.Decimal {
	return in.PlannedAmount.Sub(in.Paid())
}

// InstallmentDefinition is one entry of a caller-supplied installment plan.
type InstallmentDefinition struct {
	Sequence      int             `json:"sequence"`
	PlannedAmount decimal.Decimal `json:"planned_amount"`
	DueDate       Date            `json:"due_date"`
}

// DirectPayment maps to the direct_payment table.
type DirectPayment struct {
	ID          uuid.UUID       `json:"id"`
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate time.Time       `json:"payment_date"`
	Method      PaymentMethod   `json:"method"`
	Notes       *string         `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// InstallmentStatusFor classifies an installment from its paid amount.
func InstallmentStatusFor(paid, planned decimal.Decimal) InstallmentStatus {
	switch {
	case paid.GreaterThanOrEqual(planned):
		return InstallmentPaid
	case paid.IsPositive():
		return InstallmentPartial
	default:
		return InstallmentPending
	}
}

// InvoiceStatusFromInstallments derives an invoice's status from the sum of
// its installments' paid amounts.
func InvoiceStatusFromInstallments(paidSum, total decimal.Decimal) InvoiceStatus {
	switch {
	case paidSum.GreaterThanOrEqual(total):
		return StatusPaid
	case paidSum.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}

// InvoiceStatusFromDirectPayments derives an invoice's status from its
// cumulative direct payments. A zero sum leaves current untouched.
func InvoiceStatusFromDirectPayments(paidSum, total decimal.Decimal, current InvoiceStatus) InvoiceStatus {
	switch {
	case paidSum.GreaterThanOrEqual(total):
		return StatusPaid
	case paidSum.IsPositive():
		return StatusPartial
	default:
		return current
	}
}

// ListFilter narrows invoice listings. Zero values match everything.
type ListFilter struct {
	PatientID *uuid.UUID
	Type      InvoiceType
	Status    InvoiceStatus
}
