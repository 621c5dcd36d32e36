package orders

import (
	"fmt"

	"github.com/ggmarket/ggmarket-backend/pkg/enums"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
)

// allowedTransitions is the single source of truth for the order lifecycle.
// Anything not listed here is rejected with a state conflict.
var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusCreated: {
		enums.OrderStatusAwaitingPayment,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusAwaitingPayment: {
		enums.OrderStatusPaid,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusPaid: {
		enums.OrderStatusInDelivery,
	},
	enums.OrderStatusInDelivery: {
		enums.OrderStatusDelivered,
	},
	enums.OrderStatusDelivered: {
		enums.OrderStatusCompleted,
		enums.OrderStatusDisputed,
	},
	enums.OrderStatusCompleted: {
		enums.OrderStatusDisputed,
	},
	enums.OrderStatusDisputed:  {},
	enums.OrderStatusCancelled: {},
	enums.OrderStatusRefunded:  {},
}

// resolutionTransitions covers the dispute-resolution outcomes. A disputed
// order only leaves DISPUTED through a support decision, never through the
// regular lifecycle, so these edges stay out of allowedTransitions.
var resolutionTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusDisputed: {
		enums.OrderStatusCompleted,
		enums.OrderStatusRefunded,
	},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to enums.OrderStatus) bool {
	return containsStatus(allowedTransitions[from], to)
}

// CanResolve reports whether from -> to is a legal dispute-resolution step.
func CanResolve(from, to enums.OrderStatus) bool {
	return containsStatus(resolutionTransitions[from], to)
}

func containsStatus(candidates []enums.OrderStatus, to enums.OrderStatus) bool {
	for _, candidate := range candidates {
		if candidate == to {
			return true
		}
	}
	return false
}

func transitionError(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict,
		fmt.Sprintf("order cannot move from %s to %s", from, to))
}
