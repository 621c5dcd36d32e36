package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/api/middleware"
	"github.com/ggmarket/ggmarket-backend/api/responses"
	"github.com/ggmarket/ggmarket-backend/api/validators"
	checkoutsvc "github.com/ggmarket/ggmarket-backend/internal/checkout"
	"github.com/ggmarket/ggmarket-backend/internal/payments"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

// Checkout creates the order and its Pix charge in one call. The response
// carries the copy-paste code the buyer pays with.
func Checkout(svc checkoutsvc.Service, paymentsSvc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || paymentsSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		buyerID := middleware.UserIDFromContext(r.Context())

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]checkoutsvc.ItemInput, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, checkoutsvc.ItemInput{ListingID: item.ListingID, Quantity: item.Quantity})
		}

		order, err := svc.CreateOrder(r.Context(), checkoutsvc.CreateOrderInput{
			BuyerID: buyerID,
			Items:   items,
			Meta:    actorMeta(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		charge, err := paymentsSvc.CreateCharge(r.Context(), payments.CreateChargeInput{
			OrderID: order.ID,
			BuyerID: buyerID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			OrderID:          order.ID,
			Status:           string(enums.OrderStatusAwaitingPayment),
			TotalAmountCents: order.TotalAmountCents,
			Currency:         order.Currency,
			ExpiresAt:        order.ExpiresAt,
			Payment: chargeResponse{
				PaymentID:   charge.ID,
				TxID:        charge.TxID,
				QRCode:      charge.QRCode,
				AmountCents: charge.AmountCents,
			},
		})
	}
}

type checkoutItemRequest struct {
	ListingID uuid.UUID `json:"listing_id" validate:"required,uuid4"`
	Quantity  int       `json:"quantity" validate:"required,min=1,max=100"`
}

type checkoutRequest struct {
	Items []checkoutItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
}

type chargeResponse struct {
	PaymentID   uuid.UUID `json:"payment_id"`
	TxID        string    `json:"txid"`
	QRCode      string    `json:"qr_code"`
	AmountCents int64     `json:"amount_cents"`
}

type checkoutResponse struct {
	OrderID          uuid.UUID      `json:"order_id"`
	Status           string         `json:"status"`
	TotalAmountCents int64          `json:"total_amount_cents"`
	Currency         string         `json:"currency"`
	ExpiresAt        time.Time      `json:"expires_at"`
	Payment          chargeResponse `json:"payment"`
}
