package scheduler

// Queues. Each queue is polled independently by the worker.
const (
	QueueOrders     = "orders"
	QueueWebhooks   = "webhooks"
	QueueSettlement = "settlement"
)

// Job types. Job IDs are "<type>:<entity id>" so rescheduling the same work
// dedupes instead of stacking.
const (
	JobOrderExpire       = "order.expire"
	JobOrderAutoComplete = "order.autocomplete"
	JobWebhookProcess    = "webhook.process"
	JobSettlementRelease = "settlement.release"
)
