package billing

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dentalcare/clinic/internal/platform/apperr"
)

// -- Mock Repositories --

type mockInvoiceRepo struct {
	invoices     map[uuid.UUID]Invoice
	lines        []LineItem
	installments map[uuid.UUID]Installment
	payments     []DirectPayment
	locked       []uuid.UUID
}

func newMockInvoiceRepo() *mockInvoiceRepo {
	return &mockInvoiceRepo{
		invoices:     make(map[uuid.UUID]Invoice),
		installments: make(map[uuid.UUID]Installment),
	}
}

type mockSnapshot struct {
	invoices     map[uuid.UUID]Invoice
	lines        []LineItem
	installments map[uuid.UUID]Installment
	payments     []DirectPayment
}

func (m *mockInvoiceRepo) snapshot() mockSnapshot {
	s := mockSnapshot{
		invoices:     make(map[uuid.UUID]Invoice, len(m.invoices)),
		lines:        append([]LineItem(nil), m.lines...),
		installments: make(map[uuid.UUID]Installment, len(m.installments)),
		payments:     append([]DirectPayment(nil), m.payments...),
	}
	for k, v := range m.invoices {
		s.invoices[k] = v
	}
	for k, v := range m.installments {
		s.installments[k] = v
	}
	return s
}

func (m *mockInvoiceRepo) restore(s mockSnapshot) {
	m.invoices, m.lines, m.installments, m.payments = s.invoices, s.lines, s.installments, s.payments
}

func (m *mockInvoiceRepo) Create(_ context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	inv.IssuedAt = time.Now().UTC()
	inv.Version = 1
	stored := *inv
	stored.LineItems = nil
	m.invoices[inv.ID] = stored
	return nil
}

func (m *mockInvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, apperr.NotFound("GetInvoice", "invoice %s not found", id)
	}
	return &inv, nil
}

func (m *mockInvoiceRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return m.GetByID(ctx, id)
}

func (m *mockInvoiceRepo) FindOpenByPlan(_ context.Context, planID uuid.UUID) (*Invoice, error) {
	for _, inv := range m.invoices {
		if inv.PlanID != nil && *inv.PlanID == planID && inv.Status.Open() {
			return &inv, nil
		}
	}
	return nil, nil
}

func (m *mockInvoiceRepo) LockPlan(_ context.Context, planID uuid.UUID) error {
	m.locked = append(m.locked, planID)
	return nil
}

func (m *mockInvoiceRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Invoice, int, error) {
	var result []*Invoice
	for _, inv := range m.invoices {
		inv := inv
		if f.PatientID != nil && inv.PatientID != *f.PatientID {
			continue
		}
		if f.Type != "" && inv.Type != f.Type {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		result = append(result, &inv)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].IssuedAt.After(result[j].IssuedAt) })
	total := len(result)
	if offset >= len(result) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], total, nil
}

func (m *mockInvoiceRepo) update(id uuid.UUID, fn func(*Invoice)) error {
	inv, ok := m.invoices[id]
	if !ok {
		return apperr.NotFound("UpdateInvoice", "invoice %s not found", id)
	}
	fn(&inv)
	inv.Version++
	m.invoices[id] = inv
	return nil
}

func (m *mockInvoiceRepo) SetTotal(_ context.Context, id uuid.UUID, total decimal.Decimal) error {
	return m.update(id, func(inv *Invoice) { inv.Total = total })
}

func (m *mockInvoiceRepo) IncrementTotal(_ context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := m.update(id, func(inv *Invoice) {
		inv.Total = inv.Total.Add(delta)
		total = inv.Total
	})
	return total, err
}

func (m *mockInvoiceRepo) SetStatus(_ context.Context, id uuid.UUID, status InvoiceStatus) error {
	return m.update(id, func(inv *Invoice) { inv.Status = status })
}

func (m *mockInvoiceRepo) AddLineItem(_ context.Context, li *LineItem) error {
	li.ID = uuid.New()
	li.CreatedAt = time.Now().UTC()
	m.lines = append(m.lines, *li)
	return nil
}

func (m *mockInvoiceRepo) GetLineItems(_ context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	var out []*LineItem
	for _, li := range m.lines {
		li := li
		if li.InvoiceID == invoiceID {
			out = append(out, &li)
		}
	}
	return out, nil
}

func (m *mockInvoiceRepo) CreateInstallments(_ context.Context, items []*Installment) error {
	for _, in := range items {
		for _, existing := range m.installments {
			if existing.InvoiceID == in.InvoiceID && existing.Sequence == in.Sequence {
				return apperr.InvalidRequest("CreateInstallments", "installment sequence numbers must be unique")
			}
		}
		in.ID = uuid.New()
		m.installments[in.ID] = *in
	}
	return nil
}

func (m *mockInvoiceRepo) CountInstallments(_ context.Context, invoiceID uuid.UUID) (int, error) {
	n := 0
	for _, in := range m.installments {
		if in.InvoiceID == invoiceID {
			n++
		}
	}
	return n, nil
}

func (m *mockInvoiceRepo) GetInstallment(_ context.Context, id uuid.UUID) (*Installment, error) {
	in, ok := m.installments[id]
	if !ok {
		return nil, apperr.NotFound("GetInstallment", "installment %s not found", id)
	}
	return &in, nil
}

func (m *mockInvoiceRepo) GetInstallmentForUpdate(ctx context.Context, id uuid.UUID) (*Installment, error) {
	return m.GetInstallment(ctx, id)
}

func (m *mockInvoiceRepo) UpdateInstallmentPayment(_ context.Context, in *Installment) error {
	if _, ok := m.installments[in.ID]; !ok {
		return apperr.NotFound("PayInstallment", "installment %s not found", in.ID)
	}
	m.installments[in.ID] = *in
	return nil
}

func (m *mockInvoiceRepo) ListInstallments(_ context.Context, invoiceID uuid.UUID) ([]*Installment, error) {
	var out []*Installment
	for _, in := range m.installments {
		in := in
		if in.InvoiceID == invoiceID {
			out = append(out, &in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *mockInvoiceRepo) SumInstallmentsPaid(_ context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, in := range m.installments {
		if in.InvoiceID == invoiceID {
			sum = sum.Add(in.Paid())
		}
	}
	return sum, nil
}

func (m *mockInvoiceRepo) AddDirectPayment(_ context.Context, p *DirectPayment) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	m.payments = append(m.payments, *p)
	return nil
}

func (m *mockInvoiceRepo) ListDirectPayments(_ context.Context, invoiceID uuid.UUID) ([]*DirectPayment, error) {
	var out []*DirectPayment
	for _, p := range m.payments {
		p := p
		if p.InvoiceID == invoiceID {
			out = append(out, &p)
		}
	}
	return out, nil
}

func (m *mockInvoiceRepo) SumDirectPayments(_ context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range m.payments {
		if p.InvoiceID == invoiceID {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

// mockSources answers the Directory, LineSource and PriceResolver ports.
type mockSources struct {
	patients          map[uuid.UUID]bool
	consultations     map[uuid.UUID][]BillableLine
	plans             map[uuid.UUID][]BillableLine
	approvedBudget    map[uuid.UUID]bool
	prices            map[[2]uuid.UUID]decimal.Decimal
	consultationCalls int
	planCalls         int
}

func newMockSources() *mockSources {
	return &mockSources{
		patients:       make(map[uuid.UUID]bool),
		consultations:  make(map[uuid.UUID][]BillableLine),
		plans:          make(map[uuid.UUID][]BillableLine),
		approvedBudget: make(map[uuid.UUID]bool),
		prices:         make(map[[2]uuid.UUID]decimal.Decimal),
	}
}

func (m *mockSources) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.patients[id], nil
}

func (m *mockSources) ConsultationExists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := m.consultations[id]
	return ok, nil
}

func (m *mockSources) PlanExists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := m.plans[id]
	return ok, nil
}

func (m *mockSources) HasApprovedBudget(_ context.Context, patientID uuid.UUID) (bool, error) {
	return m.approvedBudget[patientID], nil
}

func (m *mockSources) ConsultationLines(_ context.Context, id uuid.UUID) ([]BillableLine, error) {
	m.consultationCalls++
	return m.consultations[id], nil
}

func (m *mockSources) PlanLines(_ context.Context, id uuid.UUID) ([]BillableLine, error) {
	m.planCalls++
	return m.plans[id], nil
}

func (m *mockSources) UnitPrice(_ context.Context, articleID, entityID uuid.UUID) (decimal.Decimal, error) {
	p, ok := m.prices[[2]uuid.UUID{articleID, entityID}]
	if !ok {
		return decimal.Zero, apperr.NotFound("UnitPrice", "no price for article %s", articleID)
	}
	return p, nil
}

// fakeTx restores the mock repository when fn fails, so tests can observe
// rollbacks. Nested calls join the outer transaction.
type fakeTx struct {
	repo *mockInvoiceRepo
}

type inTxKey struct{}

func (f fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	snap := f.repo.snapshot()
	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		f.repo.restore(snap)
		return err
	}
	return nil
}

func newTestService() (*Service, *mockInvoiceRepo, *mockSources) {
	repo := newMockInvoiceRepo()
	src := newMockSources()
	svc := NewService(repo, src, src, src, fakeTx{repo: repo})
	return svc, repo, src
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
