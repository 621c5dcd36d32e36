package payloads

import (
	"time"

	"github.com/google/uuid"
)

// OrderCreatedEvent signals a new checkout produced an order awaiting payment.
type OrderCreatedEvent struct {
	OrderID          uuid.UUID `json:"order_id"`
	BuyerID          uuid.UUID `json:"buyer_id"`
	SellerID         uuid.UUID `json:"seller_id"`
	TotalAmountCents int64     `json:"total_amount_cents"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// OrderPaidEvent is emitted once the Pix charge for an order is confirmed.
type OrderPaidEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	PaymentID   uuid.UUID `json:"payment_id"`
	AmountCents int64     `json:"amount_cents"`
	PaidAt      time.Time `json:"paid_at"`
}

// OrderDeliveredEvent reports that all items of an order reached the buyer.
type OrderDeliveredEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	Auto        bool      `json:"auto"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// OrderCompletedEvent reports buyer confirmation (or the auto-complete timer).
type OrderCompletedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// OrderCancelledEvent is emitted when an unpaid order is cancelled.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	CancelledAt time.Time `json:"cancelled_at"`
	Reason      string    `json:"reason,omitempty"`
}

// OrderExpiredEvent reports that the payment window lapsed.
type OrderExpiredEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	BuyerID   uuid.UUID `json:"buyer_id"`
	SellerID  uuid.UUID `json:"seller_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

// OrderRefundedEvent reports funds returned to the buyer.
type OrderRefundedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	AmountCents int64     `json:"amount_cents"`
	RefundedAt  time.Time `json:"refunded_at"`
}

// DisputeOpenedEvent tells downstream systems a dispute froze settlement.
type DisputeOpenedEvent struct {
	DisputeID uuid.UUID `json:"dispute_id"`
	OrderID   uuid.UUID `json:"order_id"`
	OpenedBy  uuid.UUID `json:"opened_by"`
	Reason    string    `json:"reason"`
}

// DisputeResolvedEvent reports a terminal dispute outcome.
type DisputeResolvedEvent struct {
	DisputeID  uuid.UUID `json:"dispute_id"`
	OrderID    uuid.UUID `json:"order_id"`
	Status     string    `json:"status"`
	Resolution string    `json:"resolution,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// SettlementReleasedEvent reports escrow moving to the seller's favor.
type SettlementReleasedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	SellerID   uuid.UUID `json:"seller_id"`
	GrossCents int64     `json:"gross_cents"`
	FeeCents   int64     `json:"fee_cents"`
	NetCents   int64     `json:"net_cents"`
	ReleasedAt time.Time `json:"released_at"`
}

// ChargebackOpenedEvent flags a refund that arrived after settlement release
// and needs a human to claw funds back.
type ChargebackOpenedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	TicketID    uuid.UUID `json:"ticket_id"`
	AmountCents int64     `json:"amount_cents"`
}

// PayoutSentEvent reports an external cash-out leaving the platform.
type PayoutSentEvent struct {
	PayoutID    uuid.UUID `json:"payout_id"`
	OrderID     uuid.UUID `json:"order_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	AmountCents int64     `json:"amount_cents"`
	ProviderRef string    `json:"provider_ref,omitempty"`
}
