package sources

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentalcare/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (s *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *storePG) exists(ctx context.Context, table string, id uuid.UUID) (bool, error) {
	var ok bool
	err := s.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", table, err)
	}
	return ok, nil
}

func (s *storePG) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.exists(ctx, "patient", id)
}

func (s *storePG) ConsultationExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.exists(ctx, "consultation", id)
}

func (s *storePG) PlanExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.exists(ctx, "treatment_plan", id)
}

func (s *storePG) LatestApprovedBudget(ctx context.Context, patientID uuid.UUID) (*Budget, error) {
	var b Budget
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, status, issued_on FROM budget
		WHERE patient_id = $1 AND status = $2
		ORDER BY issued_on DESC, id DESC LIMIT 1`, patientID, BudgetApproved).
		Scan(&b.ID, &b.PatientID, &b.Status, &b.IssuedOn)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select approved budget: %w", err)
	}
	return &b, nil
}

func (s *storePG) ConsultationItems(ctx context.Context, consultationID uuid.UUID) ([]ConsultationItem, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT ci.id, ci.consultation_id, ci.article_id, a.description,
			ci.quantity, ci.unit_price, ci.total
		FROM consultation_item ci
		LEFT JOIN article a ON a.id = ci.article_id
		WHERE ci.consultation_id = $1
		ORDER BY ci.created_at, ci.id`, consultationID)
	if err != nil {
		return nil, fmt.Errorf("list consultation items: %w", err)
	}
	defer rows.Close()
	var items []ConsultationItem
	for rows.Next() {
		var it ConsultationItem
		if err := rows.Scan(&it.ID, &it.ConsultationID, &it.ArticleID, &it.ArticleDescription,
			&it.Quantity, &it.UnitPrice, &it.Total); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *storePG) PlanItems(ctx context.Context, planID uuid.UUID) ([]PlanItem, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT pi.id, pi.plan_id, pi.budget_item_id, bi.id IS NOT NULL,
			pi.planned_quantity, COALESCE(bi.patient_price, 0), a.description
		FROM plan_item pi
		LEFT JOIN budget_item bi ON bi.id = pi.budget_item_id
		LEFT JOIN article a ON a.id = bi.article_id
		WHERE pi.plan_id = $1
		ORDER BY pi.position, pi.id`, planID)
	if err != nil {
		return nil, fmt.Errorf("list plan items: %w", err)
	}
	defer rows.Close()
	var items []PlanItem
	for rows.Next() {
		var it PlanItem
		if err := rows.Scan(&it.ID, &it.PlanID, &it.BudgetItemID, &it.BudgetItemFound,
			&it.PlannedQuantity, &it.PatientPrice, &it.ArticleDescription); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
