package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event describes.
type OutboxAggregateType string

const (
	AggregateProduct           OutboxAggregateType = "product"
	AggregateLocation          OutboxAggregateType = "location"
	AggregateStockLevel        OutboxAggregateType = "stock_level"
	AggregateUnitConversion    OutboxAggregateType = "unit_conversion"
	AggregateSaleTransaction   OutboxAggregateType = "sale_transaction"
	AggregateReconciliationLog OutboxAggregateType = "reconciliation_log"
	AggregateTerminal          OutboxAggregateType = "terminal"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateProduct,
	AggregateLocation,
	AggregateStockLevel,
	AggregateUnitConversion,
	AggregateSaleTransaction,
	AggregateReconciliationLog,
	AggregateTerminal,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names the change an outbox event records.
type OutboxEventType string

const (
	EventAuditRecorded OutboxEventType = "audit_recorded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventAuditRecorded,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
