package enums

import "fmt"

// PayoutStatus maps to the payout_status_enum enum in Postgres.
//
// A payout row is created before the external cash-out call and finalized by
// the settlement recording transaction, so "sent" rows without a matching
// ledger debit are the reconciliation signal.
type PayoutStatus string

const (
	PayoutStatusPending  PayoutStatus = "pending"
	PayoutStatusSent     PayoutStatus = "sent"
	PayoutStatusRecorded PayoutStatus = "recorded"
	PayoutStatusFailed   PayoutStatus = "failed"
)

var validPayoutStatuses = []PayoutStatus{
	PayoutStatusPending,
	PayoutStatusSent,
	PayoutStatusRecorded,
	PayoutStatusFailed,
}

// IsValid reports whether the value matches the canonical payout status enum.
func (s PayoutStatus) IsValid() bool {
	for _, candidate := range validPayoutStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePayoutStatus converts raw input into PayoutStatus.
func ParsePayoutStatus(value string) (PayoutStatus, error) {
	for _, candidate := range validPayoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout status %q", value)
}
