package enums

import "fmt"

// DisputeStatus maps to the dispute_status_enum enum in Postgres.
type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "open"
	DisputeStatusResolved DisputeStatus = "resolved"
	DisputeStatusRejected DisputeStatus = "rejected"
)

var validDisputeStatuses = []DisputeStatus{
	DisputeStatusOpen,
	DisputeStatusResolved,
	DisputeStatusRejected,
}

// IsValid reports whether the value matches the canonical dispute status enum.
func (s DisputeStatus) IsValid() bool {
	for _, candidate := range validDisputeStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the dispute reached a resolved outcome.
func (s DisputeStatus) IsTerminal() bool {
	return s == DisputeStatusResolved || s == DisputeStatusRejected
}

// ParseDisputeStatus converts raw input into DisputeStatus.
func ParseDisputeStatus(value string) (DisputeStatus, error) {
	for _, candidate := range validDisputeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute status %q", value)
}
