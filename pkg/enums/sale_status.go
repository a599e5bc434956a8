package enums

import "fmt"

// SaleStatus is the lifecycle state of a sale transaction. Only pending may
// transition; the other states are terminal.
type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusConfirmed SaleStatus = "confirmed"
	SaleStatusCancelled SaleStatus = "cancelled"
	SaleStatusFailed    SaleStatus = "failed"
)

var validSaleStatuses = []SaleStatus{
	SaleStatusPending,
	SaleStatusConfirmed,
	SaleStatusCancelled,
	SaleStatusFailed,
}

// String implements fmt.Stringer.
func (s SaleStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SaleStatus.
func (s SaleStatus) IsValid() bool {
	for _, candidate := range validSaleStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s SaleStatus) IsTerminal() bool {
	return s.IsValid() && s != SaleStatusPending
}

// ParseSaleStatus converts raw input into a SaleStatus.
func ParseSaleStatus(value string) (SaleStatus, error) {
	for _, candidate := range validSaleStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sale status %q", value)
}
