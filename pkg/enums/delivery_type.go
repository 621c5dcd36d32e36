package enums

import "fmt"

// DeliveryType distinguishes auto-fulfilled listings from seller-delivered ones.
type DeliveryType string

const (
	DeliveryTypeAuto   DeliveryType = "auto"
	DeliveryTypeManual DeliveryType = "manual"
)

var validDeliveryTypes = []DeliveryType{
	DeliveryTypeAuto,
	DeliveryTypeManual,
}

// IsValid reports whether the value matches the canonical delivery type enum.
func (t DeliveryType) IsValid() bool {
	for _, candidate := range validDeliveryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseDeliveryType converts raw input into DeliveryType.
func ParseDeliveryType(value string) (DeliveryType, error) {
	for _, candidate := range validDeliveryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery type %q", value)
}
