package billing

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dentalcare/clinic/internal/platform/apperr"
	"github.com/dentalcare/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const invCols = `id, patient_id, type, consultation_id, plan_id, total, status, issued_at, version`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.PatientID, &inv.Type, &inv.ConsultationID, &inv.PlanID,
		&inv.Total, &inv.Status, &inv.IssuedAt, &inv.Version)
	return &inv, err
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = time.Now().UTC()
	}
	inv.Version = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice (id, patient_id, type, consultation_id, plan_id, total, status, issued_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		inv.ID, inv.PatientID, inv.Type, inv.ConsultationID, inv.PlanID,
		inv.Total, inv.Status, inv.IssuedAt, inv.Version)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (r *invoiceRepoPG) get(ctx context.Context, op, suffix string, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoice WHERE id = $1`+suffix, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound(op, "invoice %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select invoice: %w", err)
	}
	return inv, nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.get(ctx, "GetInvoice", "", id)
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.get(ctx, "LockInvoice", " FOR UPDATE", id)
}

func (r *invoiceRepoPG) FindOpenByPlan(ctx context.Context, planID uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `
		SELECT `+invCols+` FROM invoice
		WHERE plan_id = $1 AND status IN ('pending', 'partial')
		ORDER BY issued_at LIMIT 1`, planID))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select open plan invoice: %w", err)
	}
	return inv, nil
}

// planLockKey folds a plan id into the advisory lock key space. Collisions
// only serialize unrelated plans.
func planLockKey(planID uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(planID[:8]))
}

func (r *invoiceRepoPG) LockPlan(ctx context.Context, planID uuid.UUID) error {
	return db.AdvisoryXactLock(ctx, planLockKey(planID))
}

func (r *invoiceRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Invoice, int, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoice`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT %s FROM invoice%s ORDER BY issued_at DESC, id LIMIT $%d OFFSET $%d`,
		invCols, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

func (r *invoiceRepoPG) SetTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE invoice SET total = $2, version = version + 1 WHERE id = $1`, id, total)
	if err != nil {
		return fmt.Errorf("set invoice total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("SetTotal", "invoice %s not found", id)
	}
	return nil
}

func (r *invoiceRepoPG) IncrementTotal(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE invoice SET total = total + $2, version = version + 1
		WHERE id = $1 RETURNING total`, id, delta).Scan(&total)
	if db.IsNoRows(err) {
		return decimal.Zero, apperr.NotFound("IncrementTotal", "invoice %s not found", id)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("increment invoice total: %w", err)
	}
	return total, nil
}

func (r *invoiceRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE invoice SET status = $2, version = version + 1 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set invoice status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("SetStatus", "invoice %s not found", id)
	}
	return nil
}

// -- Line Items --

func (r *invoiceRepoPG) AddLineItem(ctx context.Context, li *LineItem) error {
	if li.Origin == nil {
		return fmt.Errorf("line item has no origin")
	}
	li.ID = uuid.New()
	li.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice_line_item (id, invoice_id, origin_kind, origin_id,
			quantity, unit_price, total, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		li.ID, li.InvoiceID, li.Origin.Kind(), li.Origin.SourceID(),
		li.Quantity, li.UnitPrice, li.Total, li.Description, li.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert line item: %w", err)
	}
	return nil
}

func (r *invoiceRepoPG) GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, origin_kind, origin_id, quantity, unit_price, total, description, created_at
		FROM invoice_line_item WHERE invoice_id = $1 ORDER BY created_at, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()
	var items []*LineItem
	for rows.Next() {
		var li LineItem
		var kind string
		var originID uuid.UUID
		if err := rows.Scan(&li.ID, &li.InvoiceID, &kind, &originID, &li.Quantity,
			&li.UnitPrice, &li.Total, &li.Description, &li.CreatedAt); err != nil {
			return nil, err
		}
		if li.Origin, err = ParseOrigin(kind, originID); err != nil {
			return nil, err
		}
		items = append(items, &li)
	}
	return items, rows.Err()
}

// -- Installments --

const instCols = `id, invoice_id, sequence, planned_amount, paid_amount, due_date,
	payment_date, payment_method, notes, status`

func scanInstallment(row pgx.Row) (*Installment, error) {
	var in Installment
	var due time.Time
	err := row.Scan(&in.ID, &in.InvoiceID, &in.Sequence, &in.PlannedAmount, &in.PaidAmount, &due,
		&in.PaymentDate, &in.PaymentMethod, &in.Notes, &in.Status)
	in.DueDate = Date{due}
	return &in, err
}

func (r *invoiceRepoPG) CreateInstallments(ctx context.Context, items []*Installment) error {
	batch := &pgx.Batch{}
	for _, in := range items {
		in.ID = uuid.New()
		batch.Queue(`
			INSERT INTO installment (id, invoice_id, sequence, planned_amount, due_date, status)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			in.ID, in.InvoiceID, in.Sequence, in.PlannedAmount, in.DueDate.Time, in.Status)
	}
	br := r.conn(ctx).SendBatch(ctx, batch)
	defer br.Close()
	for range items {
		if _, err := br.Exec(); err != nil {
			if db.IsUniqueViolation(err) {
				return apperr.InvalidRequest("GenerateInstallments", "installment sequence numbers must be unique")
			}
			return fmt.Errorf("insert installment: %w", err)
		}
	}
	return nil
}

func (r *invoiceRepoPG) CountInstallments(ctx context.Context, invoiceID uuid.UUID) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM installment WHERE invoice_id = $1`, invoiceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count installments: %w", err)
	}
	return n, nil
}

func (r *invoiceRepoPG) getInstallment(ctx context.Context, suffix string, id uuid.UUID) (*Installment, error) {
	in, err := scanInstallment(r.conn(ctx).QueryRow(ctx, `SELECT `+instCols+` FROM installment WHERE id = $1`+suffix, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("GetInstallment", "installment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select installment: %w", err)
	}
	return in, nil
}

func (r *invoiceRepoPG) GetInstallment(ctx context.Context, id uuid.UUID) (*Installment, error) {
	return r.getInstallment(ctx, "", id)
}

func (r *invoiceRepoPG) GetInstallmentForUpdate(ctx context.Context, id uuid.UUID) (*Installment, error) {
	return r.getInstallment(ctx, " FOR UPDATE", id)
}

func (r *invoiceRepoPG) UpdateInstallmentPayment(ctx context.Context, in *Installment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE installment SET paid_amount = $2, payment_date = $3, payment_method = $4,
			notes = $5, status = $6
		WHERE id = $1`,
		in.ID, in.PaidAmount, in.PaymentDate, in.PaymentMethod, in.Notes, in.Status)
	if err != nil {
		return fmt.Errorf("update installment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("UpdateInstallment", "installment %s not found", in.ID)
	}
	return nil
}

func (r *invoiceRepoPG) ListInstallments(ctx context.Context, invoiceID uuid.UUID) ([]*Installment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+instCols+` FROM installment WHERE invoice_id = $1 ORDER BY sequence`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	defer rows.Close()
	var items []*Installment
	for rows.Next() {
		in, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, in)
	}
	return items, rows.Err()
}

func (r *invoiceRepoPG) SumInstallmentsPaid(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(COALESCE(paid_amount, 0)), 0) FROM installment WHERE invoice_id = $1`, invoiceID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum installments: %w", err)
	}
	return sum, nil
}

// -- Direct Payments --

func (r *invoiceRepoPG) AddDirectPayment(ctx context.Context, p *DirectPayment) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO direct_payment (id, invoice_id, amount, payment_date, method, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.InvoiceID, p.Amount, p.PaymentDate, p.Method, p.Notes, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert direct payment: %w", err)
	}
	return nil
}

func (r *invoiceRepoPG) ListDirectPayments(ctx context.Context, invoiceID uuid.UUID) ([]*DirectPayment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, amount, payment_date, method, notes, created_at
		FROM direct_payment WHERE invoice_id = $1 ORDER BY payment_date, created_at`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list direct payments: %w", err)
	}
	defer rows.Close()
	var items []*DirectPayment
	for rows.Next() {
		var p DirectPayment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.PaymentDate, &p.Method, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *invoiceRepoPG) SumDirectPayments(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM direct_payment WHERE invoice_id = $1`, invoiceID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum direct payments: %w", err)
	}
	return sum, nil
}
