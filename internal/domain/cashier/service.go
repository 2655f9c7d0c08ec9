package cashier

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dentalcare/clinic/internal/domain/billing"
	"github.com/dentalcare/clinic/internal/platform/apperr"
	"github.com/dentalcare/clinic/internal/platform/audit"
	"github.com/dentalcare/clinic/internal/platform/auth"
	"github.com/dentalcare/clinic/internal/platform/db"
	"github.com/dentalcare/clinic/internal/platform/metrics"
)

// Ledger is the part of the billing service the till posts payments to.
// Calls join the till's transaction.
type Ledger interface {
	CollectInstallment(ctx context.Context, id uuid.UUID, amount decimal.Decimal, method billing.PaymentMethod, date time.Time) (*billing.Installment, error)
	SettleInvoice(ctx context.Context, invoiceID uuid.UUID) (*billing.Invoice, error)
}

var _ Ledger = (*billing.Service)(nil)

type Service struct {
	sessions SessionRepository
	ledger   Ledger
	tx       db.TxRunner
	audit    audit.Recorder
	metrics  *metrics.Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(sessions SessionRepository, ledger Ledger, tx db.TxRunner) *Service {
	return &Service{
		sessions: sessions,
		ledger:   ledger,
		tx:       tx,
		audit:    audit.Nop{},
		logger:   zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetAuditor(r audit.Recorder)    { s.audit = r }
func (s *Service) SetMetrics(m *metrics.Recorder) { s.metrics = m }
func (s *Service) SetLogger(l zerolog.Logger)     { s.logger = l }

func (s *Service) record(ctx context.Context, id uuid.UUID, action, detail string) {
	s.audit.Record(ctx, audit.Entry{
		Entity:   "cashier_session",
		EntityID: id,
		Action:   action,
		UserID:   auth.UserIDFromContext(ctx),
		At:       s.now(),
		Detail:   detail,
	})
}

type OpenSessionRequest struct {
	OpeningAmount decimal.Decimal `json:"opening_amount"`
}

// OpenSession opens the till. Only one session may be open at a time.
func (s *Service) OpenSession(ctx context.Context, req OpenSessionRequest, operator string) (*Session, error) {
	const op = "OpenSession"
	if req.OpeningAmount.IsNegative() {
		return nil, apperr.InvalidRequest(op, "opening_amount must not be negative")
	}
	if !billing.IsCents(req.OpeningAmount) {
		return nil, apperr.InvalidRequest(op, "opening_amount has more than %d decimal places", billing.MoneyScale)
	}

	sess := &Session{
		OpenedAt:      s.now(),
		OpeningAmount: req.OpeningAmount,
		Status:        SessionOpen,
		OpenedBy:      operator,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.sessions.LockOpening(ctx); err != nil {
			return err
		}
		open, err := s.sessions.FindOpen(ctx)
		if err != nil {
			return err
		}
		if open != nil {
			return apperr.InvalidRequest(op, "cashier session %s is already open", open.ID)
		}
		return s.sessions.Create(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SessionOpened()
	s.record(ctx, sess.ID, "open", "")
	s.logger.Info().Str("session_id", sess.ID.String()).Str("operator", operator).Msg("cashier session opened")
	return sess, nil
}

// FetchOpenSession returns the open session, or nil when the till is closed.
func (s *Service) FetchOpenSession(ctx context.Context) (*Session, error) {
	return s.sessions.FindOpen(ctx)
}

func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.sessions.GetByID(ctx, id)
}

// FetchPending lists every unpaid invoice and installment of the clinic.
func (s *Service) FetchPending(ctx context.Context, sessionID uuid.UUID) (*Pending, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	invoices, err := s.sessions.UnpaidInvoices(ctx)
	if err != nil {
		return nil, err
	}
	installments, err := s.sessions.UnpaidInstallments(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range invoices {
		p.computePending()
	}
	for _, p := range installments {
		p.computePending()
	}
	out := &Pending{Invoices: invoices, Installments: installments}
	if out.Invoices == nil {
		out.Invoices = []*PendingInvoice{}
	}
	if out.Installments == nil {
		out.Installments = []*PendingInstallment{}
	}
	return out, nil
}

type RegisterPaymentRequest struct {
	InstallmentID *uuid.UUID            `json:"installment_id,omitempty"`
	InvoiceID     *uuid.UUID            `json:"invoice_id,omitempty"`
	Amount        decimal.Decimal       `json:"amount"`
	Method        billing.PaymentMethod `json:"payment_method"`
	PaymentDate   *time.Time            `json:"payment_date,omitempty"`
	Notes         *string               `json:"notes,omitempty"`
}

// RegisterPayment takes a payment at the till. An installment payment adds to
// what was already paid on it; an invoice payment settles the invoice in
// full whatever the amount.
func (s *Service) RegisterPayment(ctx context.Context, sessionID uuid.UUID, req RegisterPaymentRequest, operator string) (*Payment, error) {
	const op = "RegisterPayment"
	var p *Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.requireOpen(ctx, op, sessionID); err != nil {
			return err
		}
		if (req.InstallmentID == nil) == (req.InvoiceID == nil) {
			return apperr.InvalidRequest(op, "exactly one of installment_id or invoice_id is required")
		}
		if !req.Amount.IsPositive() {
			return apperr.InvalidRequest(op, "amount must be positive")
		}
		if !billing.IsCents(req.Amount) {
			return apperr.InvalidRequest(op, "amount has more than %d decimal places", billing.MoneyScale)
		}
		if !req.Method.Valid() {
			return apperr.InvalidRequest(op, "invalid payment method %q", req.Method)
		}

		date := s.now()
		if req.PaymentDate != nil {
			date = req.PaymentDate.UTC()
		}
		if req.InstallmentID != nil {
			if _, err := s.ledger.CollectInstallment(ctx, *req.InstallmentID, req.Amount, req.Method, date); err != nil {
				return err
			}
		} else if _, err := s.ledger.SettleInvoice(ctx, *req.InvoiceID); err != nil {
			return err
		}

		p = &Payment{
			SessionID:     sessionID,
			OperatorID:    operator,
			InstallmentID: req.InstallmentID,
			InvoiceID:     req.InvoiceID,
			Amount:        req.Amount,
			Method:        req.Method,
			PaymentDate:   date,
			Notes:         req.Notes,
		}
		return s.sessions.AddPayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Payment("cashier", string(req.Method), req.Amount)
	s.record(ctx, sessionID, "payment", p.ID.String())
	return p, nil
}

// requireOpen locks the session and checks that it is open. A missing
// session is reported like a closed one.
func (s *Service) requireOpen(ctx context.Context, op string, id uuid.UUID) error {
	sess, err := s.sessions.GetForUpdate(ctx, id)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return apperr.InvalidRequest(op, "cashier session %s does not exist", id)
	}
	if err != nil {
		return err
	}
	if sess.Status != SessionOpen {
		return apperr.InvalidRequest(op, "cashier session %s is closed", id)
	}
	return nil
}

func (s *Service) ListPayments(ctx context.Context, sessionID uuid.UUID) ([]*Payment, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.sessions.ListPayments(ctx, sessionID)
}

type CloseSessionRequest struct {
	ClosingAmount decimal.Decimal `json:"closing_amount"`
}

// CloseSession records the declared closing amount and closes the till.
func (s *Service) CloseSession(ctx context.Context, id uuid.UUID, req CloseSessionRequest) (*Session, error) {
	const op = "CloseSession"
	if req.ClosingAmount.IsNegative() {
		return nil, apperr.InvalidRequest(op, "closing_amount must not be negative")
	}
	if !billing.IsCents(req.ClosingAmount) {
		return nil, apperr.InvalidRequest(op, "closing_amount has more than %d decimal places", billing.MoneyScale)
	}
	var sess *Session
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.requireOpen(ctx, op, id); err != nil {
			return err
		}
		if err := s.sessions.Close(ctx, id, req.ClosingAmount, s.now()); err != nil {
			return err
		}
		var err error
		sess, err = s.sessions.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SessionClosed()
	s.record(ctx, id, "close", "")
	s.logger.Info().Str("session_id", id.String()).Str("closing_amount", req.ClosingAmount.StringFixed(2)).Msg("cashier session closed")
	return sess, nil
}
