package models

import (
	"github.com/google/uuid"
)

// ensureID assigns a random id when the caller did not provide one. Postgres
// also defaults ids server side; sqlite relies on this.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All lists every persisted model. Tests and sqlite dev runs migrate with it;
// Postgres schemas come from the goose migrations.
func All() []any {
	return []any{
		&Product{},
		&ProductComponent{},
		&Location{},
		&StockLevel{},
		&UnitConversion{},
		&SaleTransaction{},
		&ReconciliationLog{},
		&Terminal{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
