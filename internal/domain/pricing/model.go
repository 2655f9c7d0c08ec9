// Package pricing reads the price list owned by the catalogue service. A price
// entry is keyed by article and payer entity.
package pricing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Price maps to the price table.
type Price struct {
	ArticleID    uuid.UUID       `json:"article_id"`
	EntityID     uuid.UUID       `json:"entity_id"`
	EntityPrice  decimal.Decimal `json:"entity_price"`
	PatientPrice decimal.Decimal `json:"patient_price"`
}
