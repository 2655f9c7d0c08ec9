package cashier

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SessionRepository interface {
	// LockOpening serializes session opening until the transaction ends.
	LockOpening(ctx context.Context) error
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Session, error)
	// FindOpen returns the most recently opened open session, or nil.
	FindOpen(ctx context.Context) (*Session, error)
	Close(ctx context.Context, id uuid.UUID, closingAmount decimal.Decimal, closedAt time.Time) error

	AddPayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, sessionID uuid.UUID) ([]*Payment, error)

	UnpaidInvoices(ctx context.Context) ([]*PendingInvoice, error)
	UnpaidInstallments(ctx context.Context) ([]*PendingInstallment, error)
}
