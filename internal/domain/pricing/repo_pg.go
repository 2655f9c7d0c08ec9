package pricing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentalcare/clinic/internal/platform/apperr"
	"github.com/dentalcare/clinic/internal/platform/db"
)

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type priceRepoPG struct{ pool *pgxpool.Pool }

func NewPriceRepoPG(pool *pgxpool.Pool) PriceRepository { return &priceRepoPG{pool: pool} }

func (r *priceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *priceRepoPG) Get(ctx context.Context, articleID, entityID uuid.UUID) (*Price, error) {
	var p Price
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT article_id, entity_id, entity_price, patient_price
		FROM price WHERE article_id = $1 AND entity_id = $2`, articleID, entityID).
		Scan(&p.ArticleID, &p.EntityID, &p.EntityPrice, &p.PatientPrice)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("GetPrice", "no price for article %s and entity %s", articleID, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("select price: %w", err)
	}
	return &p, nil
}
