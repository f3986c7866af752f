package enums

import "fmt"

// BillingRecordStatus maps to the billing_record_status enum in Postgres.
type BillingRecordStatus string

const (
	BillingRecordStatusPending  BillingRecordStatus = "pending"
	BillingRecordStatusReserved BillingRecordStatus = "reserved"
	BillingRecordStatusPaid     BillingRecordStatus = "paid"
	BillingRecordStatusFailed   BillingRecordStatus = "failed"
	BillingRecordStatusReleased BillingRecordStatus = "released"
)

var validBillingRecordStatuses = []BillingRecordStatus{
	BillingRecordStatusPending,
	BillingRecordStatusReserved,
	BillingRecordStatusPaid,
	BillingRecordStatusFailed,
	BillingRecordStatusReleased,
}

// IsValid reports whether the value matches the canonical billing record status enum.
func (s BillingRecordStatus) IsValid() bool {
	for _, candidate := range validBillingRecordStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the record lifecycle.
func (s BillingRecordStatus) IsTerminal() bool {
	switch s {
	case BillingRecordStatusPaid, BillingRecordStatusFailed, BillingRecordStatusReleased:
		return true
	}
	return false
}

// ParseBillingRecordStatus converts raw input into a BillingRecordStatus.
func ParseBillingRecordStatus(value string) (BillingRecordStatus, error) {
	for _, candidate := range validBillingRecordStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing record status %q", value)
}
