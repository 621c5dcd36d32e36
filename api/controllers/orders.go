package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/api/middleware"
	"github.com/ggmarket/ggmarket-backend/api/responses"
	"github.com/ggmarket/ggmarket-backend/api/validators"
	checkoutsvc "github.com/ggmarket/ggmarket-backend/internal/checkout"
	"github.com/ggmarket/ggmarket-backend/internal/orders"
	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

// OrderDetail returns an order with its line items. Only the buyer or the
// seller may read it.
func OrderDetail(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetWithItems(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actorID := middleware.UserIDFromContext(r.Context())
		if actorID != order.BuyerID && actorID != order.SellerID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "not a participant of this order"))
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// OrderHistory returns the transition log for an order.
func OrderHistory(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actorID := middleware.UserIDFromContext(r.Context())
		if actorID != order.BuyerID && actorID != order.SellerID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "not a participant of this order"))
			return
		}

		events, err := svc.History(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]orderEventResponse, 0, len(events))
		for _, ev := range events {
			out = append(out, orderEventResponse{
				FromStatus: string(ev.FromStatus),
				ToStatus:   string(ev.ToStatus),
				Reason:     ev.Reason,
				CreatedAt:  ev.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

// CancelOrder lets a participant abandon an unpaid order.
func CancelOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actorID := middleware.UserIDFromContext(r.Context())
		reason := validators.SanitizeString(payload.Reason, 500)
		if reason == "" {
			reason = "cancelled by user"
		}

		if err := svc.Cancel(r.Context(), orders.CancelInput{
			OrderID: orderID,
			ActorID: &actorID,
			Reason:  reason,
			Meta:    actorMeta(r),
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "cancelled"})
	}
}

// DeliverOrder is the seller's manual hand-off for non-automatic lines.
func DeliverOrder(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actorID := middleware.UserIDFromContext(r.Context())
		if err := svc.MarkDelivered(r.Context(), orders.DeliverInput{
			OrderID: orderID,
			ActorID: &actorID,
			Meta:    actorMeta(r),
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "delivered"})
	}
}

// ConfirmReceipt is the buyer's acknowledgement that the goods arrived. It
// completes the order and queues the settlement release.
func ConfirmReceipt(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		buyerID := middleware.UserIDFromContext(r.Context())
		if err := svc.ConfirmReceipt(r.Context(), orderID, buyerID, actorMeta(r)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "completed"})
	}
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

type orderItemResponse struct {
	ItemID         uuid.UUID  `json:"item_id"`
	ListingID      uuid.UUID  `json:"listing_id"`
	Title          string     `json:"title"`
	UnitPriceCents int64      `json:"unit_price_cents"`
	Quantity       int        `json:"quantity"`
	DeliveryType   string     `json:"delivery_type"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

type orderResponse struct {
	OrderID          uuid.UUID           `json:"order_id"`
	BuyerID          uuid.UUID           `json:"buyer_id"`
	SellerID         uuid.UUID           `json:"seller_id"`
	Status           string              `json:"status"`
	TotalAmountCents int64               `json:"total_amount_cents"`
	Currency         string              `json:"currency"`
	ExpiresAt        time.Time           `json:"expires_at"`
	DeliveredAt      *time.Time          `json:"delivered_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	Items            []orderItemResponse `json:"items"`
}

type orderEventResponse struct {
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

func newOrderResponse(order *models.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ItemID:         item.ID,
			ListingID:      item.ListingID,
			Title:          item.Title,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			DeliveryType:   string(item.DeliveryType),
			DeliveredAt:    item.DeliveredAt,
		})
	}
	return orderResponse{
		OrderID:          order.ID,
		BuyerID:          order.BuyerID,
		SellerID:         order.SellerID,
		Status:           string(order.Status),
		TotalAmountCents: order.TotalAmountCents,
		Currency:         order.Currency,
		ExpiresAt:        order.ExpiresAt,
		DeliveredAt:      order.DeliveredAt,
		CompletedAt:      order.CompletedAt,
		CreatedAt:        order.CreatedAt,
		Items:            items,
	}
}
