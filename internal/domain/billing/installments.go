package billing

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dentalcare/clinic/internal/platform/apperr"
)

// -- Installment Engine --

// GenerateInstallments defines the installment plan of a plan invoice. The
// planned amounts must add up to the invoice total exactly and a plan can be
// defined only once.
func (s *Service) GenerateInstallments(ctx context.Context, invoiceID uuid.UUID, defs []InstallmentDefinition) ([]*Installment, error) {
	const op = "GenerateInstallments"
	if len(defs) == 0 {
		return nil, apperr.InvalidRequest(op, "at least one installment is required")
	}
	seen := make(map[int]bool, len(defs))
	sum := decimal.Zero
	for _, d := range defs {
		if d.Sequence <= 0 {
			return nil, apperr.InvalidRequest(op, "installment sequence must be positive")
		}
		if seen[d.Sequence] {
			return nil, apperr.InvalidRequest(op, "installment sequence %d is repeated", d.Sequence)
		}
		seen[d.Sequence] = true
		if d.PlannedAmount.IsNegative() {
			return nil, apperr.InvalidRequest(op, "planned amount of installment %d must not be negative", d.Sequence)
		}
		if !IsCents(d.PlannedAmount) {
			return nil, apperr.InvalidRequest(op, "planned amount of installment %d has more than %d decimal places", d.Sequence, MoneyScale)
		}
		if d.DueDate.IsZero() {
			return nil, apperr.InvalidRequest(op, "due date of installment %d is required", d.Sequence)
		}
		sum = sum.Add(d.PlannedAmount)
	}

	var out []*Installment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Type != TypePlan {
			return apperr.InvalidRequest(op, "installments are only available for plan invoices")
		}
		if inv.Status == StatusCancelled {
			return apperr.InvalidRequest(op, "cannot define installments for a cancelled invoice")
		}
		n, err := s.invoices.CountInstallments(ctx, invoiceID)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.InvalidRequest(op, "installments already defined for invoice %s", invoiceID)
		}
		if !sum.Equal(inv.Total) {
			return apperr.InvalidRequest(op, "installments add up to %s but the invoice total is %s",
				sum.StringFixed(2), inv.Total.StringFixed(2))
		}

		items := make([]*Installment, 0, len(defs))
		for _, d := range defs {
			items = append(items, &Installment{
				InvoiceID:     invoiceID,
				Sequence:      d.Sequence,
				PlannedAmount: d.PlannedAmount,
				DueDate:       d.DueDate,
				Status:        InstallmentPending,
			})
		}
		if err := s.invoices.CreateInstallments(ctx, items); err != nil {
			return err
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Sequence < items[j].Sequence })
		out = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "invoice", invoiceID, "generate_installments")
	return out, nil
}

func (s *Service) ListInstallments(ctx context.Context, invoiceID uuid.UUID) ([]*Installment, error) {
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.invoices.ListInstallments(ctx, invoiceID)
}

func (s *Service) GetInstallment(ctx context.Context, id uuid.UUID) (*Installment, error) {
	return s.invoices.GetInstallment(ctx, id)
}

type PayInstallmentRequest struct {
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Method      PaymentMethod   `json:"payment_method"`
	PaymentDate *time.Time      `json:"payment_date,omitempty"`
	Notes       *string         `json:"notes,omitempty"`
}

// PayInstallment records the paid amount of an installment. The amount
// replaces whatever was recorded before; it is not added to it.
func (s *Service) PayInstallment(ctx context.Context, id uuid.UUID, req PayInstallmentRequest) (*Installment, error) {
	const op = "PayInstallment"
	if req.AmountPaid.IsNegative() {
		return nil, apperr.InvalidRequest(op, "amount_paid must not be negative")
	}
	if !IsCents(req.AmountPaid) {
		return nil, apperr.InvalidRequest(op, "amount_paid has more than %d decimal places", MoneyScale)
	}
	date := s.now()
	if req.PaymentDate != nil {
		date = req.PaymentDate.UTC()
	}

	var in *Installment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		in, err = s.applyInstallmentPayment(ctx, op, id, func(*Installment) decimal.Decimal {
			return req.AmountPaid
		}, req.Method, date, req.Notes)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Payment("installment", string(req.Method), req.AmountPaid)
	s.record(ctx, "installment", id, "pay")
	return in, nil
}

// CollectInstallment adds amount to what has already been paid on an
// installment. It is the cashier desk's entry point and joins the caller's
// transaction.
func (s *Service) CollectInstallment(ctx context.Context, id uuid.UUID, amount decimal.Decimal, method PaymentMethod, date time.Time) (*Installment, error) {
	if !amount.IsPositive() || !IsCents(amount) {
		return nil, apperr.InvalidRequest("CollectInstallment", "amount must be positive with at most %d decimal places", MoneyScale)
	}
	var in *Installment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		in, err = s.applyInstallmentPayment(ctx, "CollectInstallment", id, func(cur *Installment) decimal.Decimal {
			return cur.Paid().Add(amount)
		}, method, date, nil)
		return err
	})
	return in, err
}

// applyInstallmentPayment locks the installment then its invoice, writes the
// new paid amount and re-derives both statuses. Callers hold a transaction.
func (s *Service) applyInstallmentPayment(ctx context.Context, op string, id uuid.UUID,
	paid func(*Installment) decimal.Decimal, method PaymentMethod, date time.Time, notes *string) (*Installment, error) {

	in, err := s.invoices.GetInstallmentForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	inv, err := s.invoices.GetForUpdate(ctx, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusCancelled {
		return nil, apperr.InvalidRequest(op, "cannot pay an installment of a cancelled invoice")
	}
	if !method.Valid() {
		return nil, apperr.InvalidRequest(op, "invalid payment method %q", method)
	}

	amount := paid(in)
	in.PaidAmount = decimal.NewNullDecimal(amount)
	in.PaymentDate = &date
	in.PaymentMethod = &method
	if notes != nil {
		in.Notes = notes
	}
	in.Status = InstallmentStatusFor(amount, in.PlannedAmount)
	if err := s.invoices.UpdateInstallmentPayment(ctx, in); err != nil {
		return nil, err
	}

	sum, err := s.invoices.SumInstallmentsPaid(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	if next := InvoiceStatusFromInstallments(sum, inv.Total); next != inv.Status {
		if err := s.invoices.SetStatus(ctx, inv.ID, next); err != nil {
			return nil, err
		}
		s.logger.Debug().
			Str("invoice_id", inv.ID.String()).
			Str("from", string(inv.Status)).
			Str("to", string(next)).
			Msg("invoice status changed")
	}
	return in, nil
}
