package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

// Message is a user-facing notification. Delivery channels (push, email) are
// resolved by the downstream consumer, not here.
type Message struct {
	UserID  uuid.UUID      `json:"user_id"`
	Kind    string         `json:"kind"`
	OrderID *uuid.UUID     `json:"order_id,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

const (
	KindPaymentConfirmed = "payment.confirmed"
	KindOrderDelivered   = "order.delivered"
	KindOrderCompleted   = "order.completed"
	KindOrderRefunded    = "order.refunded"
	KindDisputeOpened    = "dispute.opened"
	KindDisputeResolved  = "dispute.resolved"
	KindPayoutSent       = "payout.sent"
)

// Publisher matches the pubsub v2 publisher surface the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) *gcppubsub.PublishResult
}

const publishTimeout = 5 * time.Second

// Service fans notifications out to pub/sub. Enqueue never returns an error;
// a lost notification must not fail the money path that produced it.
type Service struct {
	publisher Publisher
	logg      *logger.Logger
}

func NewService(publisher Publisher, logg *logger.Logger) (*Service, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{publisher: publisher, logg: logg}, nil
}

// Enqueue publishes the message and logs failures. Safe on a nil receiver so
// callers can treat notifications as optional wiring.
func (s *Service) Enqueue(ctx context.Context, msg Message) {
	if s == nil || s.publisher == nil {
		return
	}
	if msg.UserID == uuid.Nil || msg.Kind == "" {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		s.logg.Error(ctx, "marshal notification", err)
		return
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	result := s.publisher.Publish(publishCtx, &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"kind":    msg.Kind,
			"user_id": msg.UserID.String(),
		},
	})
	if _, err := result.Get(publishCtx); err != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"kind": msg.Kind})
		s.logg.Error(ctx, "publish notification", err)
	}
}
