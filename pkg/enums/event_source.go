package enums

// EventSource records whether an order event was caused by a person or the system.
type EventSource string

const (
	EventSourceUser   EventSource = "user"
	EventSourceSystem EventSource = "system"
)

// IsValid reports whether the value matches the canonical event source enum.
func (s EventSource) IsValid() bool {
	return s == EventSourceUser || s == EventSourceSystem
}
