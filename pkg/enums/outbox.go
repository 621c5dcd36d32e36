package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregatePayment OutboxAggregateType = "payment"
	AggregateDispute OutboxAggregateType = "dispute"
	AggregatePayout  OutboxAggregateType = "payout"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
	AggregateDispute,
	AggregatePayout,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
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

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order_created"
	EventOrderPaid          OutboxEventType = "order_paid"
	EventOrderDelivered     OutboxEventType = "order_delivered"
	EventOrderCompleted     OutboxEventType = "order_completed"
	EventOrderCancelled     OutboxEventType = "order_cancelled"
	EventOrderExpired       OutboxEventType = "order_expired"
	EventOrderRefunded      OutboxEventType = "order_refunded"
	EventDisputeOpened      OutboxEventType = "dispute_opened"
	EventDisputeResolved    OutboxEventType = "dispute_resolved"
	EventSettlementReleased OutboxEventType = "settlement_released"
	EventChargebackOpened   OutboxEventType = "chargeback_opened"
	EventPayoutSent         OutboxEventType = "payout_sent"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderDelivered,
	EventOrderCompleted,
	EventOrderCancelled,
	EventOrderExpired,
	EventOrderRefunded,
	EventDisputeOpened,
	EventDisputeResolved,
	EventSettlementReleased,
	EventChargebackOpened,
	EventPayoutSent,
}

// IsValid reports whether the value matches the canonical event_type enum.
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
