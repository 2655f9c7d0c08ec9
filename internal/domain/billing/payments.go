package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dentalcare/clinic/internal/platform/apperr"
)

// -- Direct Payment Engine --

type DirectPaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Method      PaymentMethod   `json:"payment_method"`
	PaymentDate *time.Time      `json:"payment_date,omitempty"`
	Notes       *string         `json:"notes,omitempty"`
}

// PayDirect records a payment against an invoice that has no installment
// plan and returns the invoice with its updated status.
func (s *Service) PayDirect(ctx context.Context, invoiceID uuid.UUID, req DirectPaymentRequest) (*Invoice, error) {
	const op = "PayDirect"
	var out *Invoice
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		switch inv.Status {
		case StatusCancelled:
			return apperr.InvalidRequest(op, "cannot pay a cancelled invoice")
		case StatusPaid:
			return apperr.InvalidRequest(op, "invoice is already fully paid")
		}
		n, err := s.invoices.CountInstallments(ctx, invoiceID)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.InvalidRequest(op, "invoice has installments; pay the installments instead")
		}
		if !req.Amount.IsPositive() {
			return apperr.InvalidRequest(op, "amount must be positive")
		}
		if !IsCents(req.Amount) {
			return apperr.InvalidRequest(op, "amount has more than %d decimal places", MoneyScale)
		}
		if !req.Method.Valid() {
			return apperr.InvalidRequest(op, "invalid payment method %q", req.Method)
		}

		p := &DirectPayment{
			InvoiceID:   invoiceID,
			Amount:      req.Amount,
			PaymentDate: s.now(),
			Method:      req.Method,
			Notes:       req.Notes,
		}
		if req.PaymentDate != nil {
			p.PaymentDate = req.PaymentDate.UTC()
		}
		if err := s.invoices.AddDirectPayment(ctx, p); err != nil {
			return err
		}

		sum, err := s.invoices.SumDirectPayments(ctx, invoiceID)
		if err != nil {
			return err
		}
		if next := InvoiceStatusFromDirectPayments(sum, inv.Total, inv.Status); next != inv.Status {
			if err := s.invoices.SetStatus(ctx, invoiceID, next); err != nil {
				return err
			}
		}
		out, err = s.invoices.GetByID(ctx, invoiceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Payment("direct", string(req.Method), req.Amount)
	s.record(ctx, "invoice", invoiceID, "direct_payment")
	return out, nil
}

func (s *Service) ListDirectPayments(ctx context.Context, invoiceID uuid.UUID) ([]*DirectPayment, error) {
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.invoices.ListDirectPayments(ctx, invoiceID)
}

// SettleInvoice marks an invoice paid regardless of what has been collected.
// The cashier desk calls it for whole-invoice payments inside its own
// transaction.
func (s *Service) SettleInvoice(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error) {
	var out *Invoice
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return apperr.InvalidRequest("SettleInvoice", "cannot pay a cancelled invoice")
		}
		if inv.Status != StatusPaid {
			if err := s.invoices.SetStatus(ctx, invoiceID, StatusPaid); err != nil {
				return err
			}
		}
		out, err = s.invoices.GetByID(ctx, invoiceID)
		return err
	})
	return out, err
}
