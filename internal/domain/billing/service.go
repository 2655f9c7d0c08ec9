package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dentalcare/clinic/internal/platform/apperr"
	"github.com/dentalcare/clinic/internal/platform/audit"
	"github.com/dentalcare/clinic/internal/platform/auth"
	"github.com/dentalcare/clinic/internal/platform/db"
	"github.com/dentalcare/clinic/internal/platform/metrics"
)

// Service hosts the invoice, installment and direct payment engines. Every
// public operation runs in one transaction; nested calls join the caller's.
type Service struct {
	invoices InvoiceRepository
	dir      Directory
	lines    LineSource
	prices   PriceResolver
	tx       db.TxRunner
	audit    audit.Recorder
	metrics  *metrics.Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(invoices InvoiceRepository, dir Directory, lines LineSource, prices PriceResolver, tx db.TxRunner) *Service {
	return &Service{
		invoices: invoices,
		dir:      dir,
		lines:    lines,
		prices:   prices,
		tx:       tx,
		audit:    audit.Nop{},
		logger:   zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetAuditor(r audit.Recorder)    { s.audit = r }
func (s *Service) SetMetrics(m *metrics.Recorder) { s.metrics = m }
func (s *Service) SetLogger(l zerolog.Logger)     { s.logger = l }

func (s *Service) record(ctx context.Context, entity string, id uuid.UUID, action string) {
	s.audit.Record(ctx, audit.Entry{
		Entity:   entity,
		EntityID: id,
		Action:   action,
		UserID:   auth.UserIDFromContext(ctx),
		At:       s.now(),
	})
}

// -- Invoice Engine --

type CreateInvoiceRequest struct {
	PatientID      uuid.UUID   `json:"patient_id"`
	Type           InvoiceType `json:"type"`
	ConsultationID *uuid.UUID  `json:"consultation_id,omitempty"`
	PlanID         *uuid.UUID  `json:"plan_id,omitempty"`
}

func (r CreateInvoiceRequest) validate() error {
	const op = "CreateInvoice"
	if r.PatientID == uuid.Nil {
		return apperr.InvalidRequest(op, "patient_id is required")
	}
	switch r.Type {
	case TypeConsultation:
		if r.ConsultationID == nil {
			return apperr.InvalidRequest(op, "consultation_id is required for a consultation invoice")
		}
		if r.PlanID != nil {
			return apperr.InvalidRequest(op, "a consultation invoice cannot reference a plan")
		}
	case TypePlan:
		if r.PlanID == nil {
			return apperr.InvalidRequest(op, "plan_id is required for a plan invoice")
		}
		if r.ConsultationID != nil {
			return apperr.InvalidRequest(op, "a plan invoice cannot reference a consultation")
		}
	default:
		return apperr.InvalidRequest(op, "invalid invoice type %q", r.Type)
	}
	return nil
}

// CreateInvoice creates an invoice and its line items from the referenced
// consultation or treatment plan. For a plan that already has a pending or
// partial invoice, that invoice is returned and created is false.
func (s *Service) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (inv *Invoice, created bool, err error) {
	const op = "CreateInvoice"
	if err := req.validate(); err != nil {
		return nil, false, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.mustExist(ctx, op, "patient", req.PatientID, s.dir.PatientExists); err != nil {
			return err
		}

		var lines []BillableLine
		switch req.Type {
		case TypeConsultation:
			if err := s.mustExist(ctx, op, "consultation", *req.ConsultationID, s.dir.ConsultationExists); err != nil {
				return err
			}
		case TypePlan:
			if err := s.mustExist(ctx, op, "treatment plan", *req.PlanID, s.dir.PlanExists); err != nil {
				return err
			}
			if err := s.invoices.LockPlan(ctx, *req.PlanID); err != nil {
				return err
			}
			existing, err := s.invoices.FindOpenByPlan(ctx, *req.PlanID)
			if err != nil {
				return err
			}
			if existing != nil {
				inv = existing
				return nil
			}
		}

		inv = &Invoice{
			PatientID:      req.PatientID,
			Type:           req.Type,
			ConsultationID: req.ConsultationID,
			PlanID:         req.PlanID,
			Total:          decimal.Zero,
			Status:         StatusPending,
		}
		if err := s.invoices.Create(ctx, inv); err != nil {
			return err
		}

		var err error
		if req.Type == TypeConsultation {
			lines, err = s.lines.ConsultationLines(ctx, *req.ConsultationID)
		} else {
			var approved bool
			if approved, err = s.dir.HasApprovedBudget(ctx, req.PatientID); err == nil && !approved {
				err = apperr.InternalInconsistency(op, "patient %s has no approved budget for plan %s", req.PatientID, *req.PlanID)
			}
			if err == nil {
				lines, err = s.lines.PlanLines(ctx, *req.PlanID)
			}
		}
		if err != nil {
			return err
		}

		total := decimal.Zero
		for _, line := range lines {
			li := &LineItem{
				InvoiceID:   inv.ID,
				Origin:      line.Origin,
				Quantity:    line.Quantity,
				UnitPrice:   line.UnitPrice,
				Total:       line.Total,
				Description: line.Description,
			}
			if err := s.invoices.AddLineItem(ctx, li); err != nil {
				return err
			}
			inv.LineItems = append(inv.LineItems, li)
			total = total.Add(li.Total)
		}

		if err := s.invoices.SetTotal(ctx, inv.ID, total); err != nil {
			return err
		}
		inv.Total = total
		inv.Version++
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.metrics.InvoiceCreated(string(inv.Type))
		s.record(ctx, "invoice", inv.ID, "create")
		s.logger.Info().
			Str("invoice_id", inv.ID.String()).
			Str("type", string(inv.Type)).
			Str("total", inv.Total.StringFixed(2)).
			Int("lines", len(inv.LineItems)).
			Msg("invoice created")
	} else {
		s.logger.Debug().Str("invoice_id", inv.ID.String()).Msg("open plan invoice reused")
	}
	return inv, created, nil
}

func (s *Service) mustExist(ctx context.Context, op, what string, id uuid.UUID, exists func(context.Context, uuid.UUID) (bool, error)) error {
	ok, err := exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound(op, "%s %s not found", what, id)
	}
	return nil
}

type AddItemRequest struct {
	OriginKind  OriginKind       `json:"origin_kind"`
	OriginID    uuid.UUID        `json:"origin_id"`
	Quantity    int              `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	ArticleID   *uuid.UUID       `json:"article_id,omitempty"`
	EntityID    *uuid.UUID       `json:"entity_id,omitempty"`
	Description string           `json:"description,omitempty"`
}

// AddItem appends a line item and adds its total to the invoice total. The
// invoice status is left as is. Without an explicit unit price the price
// list entry for (article, entity) is used.
func (s *Service) AddItem(ctx context.Context, invoiceID uuid.UUID, req AddItemRequest) (*LineItem, error) {
	const op = "AddItem"
	origin, err := ParseOrigin(string(req.OriginKind), req.OriginID)
	if err != nil {
		return nil, apperr.InvalidRequest(op, "%s", err.Error())
	}
	if req.OriginID == uuid.Nil {
		return nil, apperr.InvalidRequest(op, "origin_id is required")
	}
	if req.Quantity <= 0 {
		return nil, apperr.InvalidRequest(op, "quantity must be positive")
	}
	if req.UnitPrice == nil && (req.ArticleID == nil || req.EntityID == nil) {
		return nil, apperr.InvalidRequest(op, "unit_price or both article_id and entity_id are required")
	}
	if req.UnitPrice != nil && !IsCents(*req.UnitPrice) {
		return nil, apperr.InvalidRequest(op, "unit_price has more than %d decimal places", MoneyScale)
	}

	var li *LineItem
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return apperr.InvalidRequest(op, "cannot add items to a cancelled invoice")
		}
		if inv.Type.OriginKind() != origin.Kind() {
			return apperr.InvalidRequest(op, "%s items can only be added to %s invoices", origin.Kind(), otherType(inv.Type))
		}

		var price decimal.Decimal
		if req.UnitPrice != nil {
			price = *req.UnitPrice
		} else if price, err = s.prices.UnitPrice(ctx, *req.ArticleID, *req.EntityID); err != nil {
			return err
		}
		if price.IsNegative() {
			return apperr.InvalidRequest(op, "unit_price must not be negative")
		}
		// Price list entries are stored in cents already.
		price = price.Round(MoneyScale)

		li = NewLineItem(inv.ID, origin, req.Quantity, price, req.Description)
		if err := s.invoices.AddLineItem(ctx, li); err != nil {
			return err
		}
		_, err = s.invoices.IncrementTotal(ctx, inv.ID, li.Total)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "invoice", invoiceID, "add_item")
	return li, nil
}

func otherType(t InvoiceType) InvoiceType {
	if t == TypePlan {
		return TypeConsultation
	}
	return TypePlan
}

// GetInvoice returns the invoice with its line items.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.LineItems, err = s.invoices.GetLineItems(ctx, id); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) ListInvoices(ctx context.Context, f ListFilter, limit, offset int) ([]*Invoice, int, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, apperr.InvalidRequest("ListInvoices", "invalid invoice type %q", f.Type)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.InvalidRequest("ListInvoices", "invalid invoice status %q", f.Status)
	}
	return s.invoices.List(ctx, f, limit, offset)
}

func (s *Service) LineItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.invoices.GetLineItems(ctx, invoiceID)
}

// CancelInvoice moves a pending or partial invoice to cancelled.
func (s *Service) CancelInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.Open() {
			return apperr.InvalidRequest("CancelInvoice", "cannot cancel a %s invoice", current.Status)
		}
		if err := s.invoices.SetStatus(ctx, id, StatusCancelled); err != nil {
			return err
		}
		inv, err = s.invoices.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "invoice", id, "cancel")
	s.logger.Info().Str("invoice_id", id.String()).Msg("invoice cancelled")
	return inv, nil
}
