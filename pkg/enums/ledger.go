package enums

import "fmt"

// LedgerEntryType maps to the ledger_entry_type_enum enum in Postgres.
type LedgerEntryType string

const (
	LedgerEntryTypeCredit LedgerEntryType = "credit"
	LedgerEntryTypeDebit  LedgerEntryType = "debit"
)

// IsValid reports whether the value matches the canonical ledger entry type enum.
func (t LedgerEntryType) IsValid() bool {
	return t == LedgerEntryTypeCredit || t == LedgerEntryTypeDebit
}

// LedgerEntryState maps to the ledger_entry_state_enum enum in Postgres.
type LedgerEntryState string

const (
	LedgerEntryStateHeld      LedgerEntryState = "held"
	LedgerEntryStateAvailable LedgerEntryState = "available"
	LedgerEntryStateReversed  LedgerEntryState = "reversed"
)

var validLedgerEntryStates = []LedgerEntryState{
	LedgerEntryStateHeld,
	LedgerEntryStateAvailable,
	LedgerEntryStateReversed,
}

// IsValid reports whether the value matches the canonical ledger entry state enum.
func (s LedgerEntryState) IsValid() bool {
	for _, candidate := range validLedgerEntryStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// LedgerSource maps to the ledger_source_enum enum in Postgres.
type LedgerSource string

const (
	LedgerSourceOrderPayment LedgerSource = "order_payment"
	LedgerSourceFee          LedgerSource = "fee"
	LedgerSourcePayout       LedgerSource = "payout"
	LedgerSourceRefund       LedgerSource = "refund"
	LedgerSourceWalletTopup  LedgerSource = "wallet_topup"
)

var validLedgerSources = []LedgerSource{
	LedgerSourceOrderPayment,
	LedgerSourceFee,
	LedgerSourcePayout,
	LedgerSourceRefund,
	LedgerSourceWalletTopup,
}

// IsValid reports whether the value matches the canonical ledger source enum.
func (s LedgerSource) IsValid() bool {
	for _, candidate := range validLedgerSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLedgerSource converts raw input into LedgerSource.
func ParseLedgerSource(value string) (LedgerSource, error) {
	for _, candidate := range validLedgerSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger source %q", value)
}
