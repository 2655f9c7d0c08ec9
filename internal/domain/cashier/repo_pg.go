package cashier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dentalcare/clinic/internal/domain/billing"
	"github.com/dentalcare/clinic/internal/platform/apperr"
	"github.com/dentalcare/clinic/internal/platform/db"
)

// openingLockKey is the advisory lock taken while a session is opened.
const openingLockKey int64 = 7100001

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository { return &sessionRepoPG{pool: pool} }

func (r *sessionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *sessionRepoPG) LockOpening(ctx context.Context) error {
	return db.AdvisoryXactLock(ctx, openingLockKey)
}

const sessionCols = `id, opened_at, closed_at, opening_amount, closing_amount, status, opened_by`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.OpenedAt, &s.ClosedAt, &s.OpeningAmount, &s.ClosingAmount, &s.Status, &s.OpenedBy)
	return &s, err
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	if s.OpenedAt.IsZero() {
		s.OpenedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO cashier_session (id, opened_at, opening_amount, status, opened_by)
		VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.OpenedAt, s.OpeningAmount, s.Status, s.OpenedBy)
	if db.IsUniqueViolation(err, "uq_cashier_session_open") {
		return apperr.Conflict("OpenSession", err, "a cashier session is already open")
	}
	if err != nil {
		return fmt.Errorf("insert cashier session: %w", err)
	}
	return nil
}

func (r *sessionRepoPG) get(ctx context.Context, suffix string, id uuid.UUID) (*Session, error) {
	s, err := scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM cashier_session WHERE id = $1`+suffix, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("GetSession", "cashier session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select cashier session: %w", err)
	}
	return s, nil
}

func (r *sessionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.get(ctx, "", id)
}

func (r *sessionRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.get(ctx, " FOR UPDATE", id)
}

func (r *sessionRepoPG) FindOpen(ctx context.Context) (*Session, error) {
	s, err := scanSession(r.conn(ctx).QueryRow(ctx, `
		SELECT `+sessionCols+` FROM cashier_session
		WHERE status = 'open' ORDER BY opened_at DESC LIMIT 1`))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select open cashier session: %w", err)
	}
	return s, nil
}

func (r *sessionRepoPG) Close(ctx context.Context, id uuid.UUID, closingAmount decimal.Decimal, closedAt time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE cashier_session SET status = 'closed', closing_amount = $2, closed_at = $3
		WHERE id = $1`, id, closingAmount, closedAt)
	if err != nil {
		return fmt.Errorf("close cashier session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("CloseSession", "cashier session %s not found", id)
	}
	return nil
}

// -- Payments --

func (r *sessionRepoPG) AddPayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO cashier_payment (id, session_id, operator_id, installment_id, invoice_id,
			amount, method, payment_date, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.SessionID, p.OperatorID, p.InstallmentID, p.InvoiceID,
		p.Amount, p.Method, p.PaymentDate, p.Notes, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert cashier payment: %w", err)
	}
	return nil
}

func (r *sessionRepoPG) ListPayments(ctx context.Context, sessionID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, session_id, operator_id, installment_id, invoice_id,
			amount, method, payment_date, notes, created_at
		FROM cashier_payment WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list cashier payments: %w", err)
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.SessionID, &p.OperatorID, &p.InstallmentID, &p.InvoiceID,
			&p.Amount, &p.Method, &p.PaymentDate, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

// -- Pending --

func (r *sessionRepoPG) UnpaidInvoices(ctx context.Context) ([]*PendingInvoice, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT i.id, p.name, i.type, i.status, i.total, i.issued_at,
			COALESCE((SELECT SUM(ins.paid_amount) FROM installment ins WHERE ins.invoice_id = i.id), 0)
		FROM invoice i
		JOIN patient p ON p.id = i.patient_id
		WHERE i.status <> $1
		ORDER BY i.issued_at, i.id`, billing.StatusPaid)
	if err != nil {
		return nil, fmt.Errorf("list unpaid invoices: %w", err)
	}
	defer rows.Close()
	var items []*PendingInvoice
	for rows.Next() {
		var p PendingInvoice
		if err := rows.Scan(&p.ID, &p.PatientName, &p.Type, &p.Status, &p.Total, &p.IssuedAt, &p.InstallmentsPaid); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *sessionRepoPG) UnpaidInstallments(ctx context.Context) ([]*PendingInstallment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, sequence, planned_amount, paid_amount, due_date, status
		FROM installment
		WHERE status <> $1
		ORDER BY due_date, invoice_id, sequence`, billing.InstallmentPaid)
	if err != nil {
		return nil, fmt.Errorf("list unpaid installments: %w", err)
	}
	defer rows.Close()
	var items []*PendingInstallment
	for rows.Next() {
		var p PendingInstallment
		var due time.Time
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Sequence, &p.PlannedAmount, &p.PaidAmount, &due, &p.Status); err != nil {
			return nil, err
		}
		p.DueDate = billing.Date{Time: due}
		items = append(items, &p)
	}
	return items, rows.Err()
}
