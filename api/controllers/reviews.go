package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/api/middleware"
	"github.com/ggmarket/ggmarket-backend/api/responses"
	"github.com/ggmarket/ggmarket-backend/api/validators"
	"github.com/ggmarket/ggmarket-backend/internal/reviews"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

// CreateReview records the buyer's rating for a completed order.
func CreateReview(svc reviews.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createReviewRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		review, err := svc.Create(r.Context(), reviews.CreateInput{
			OrderID: orderID,
			BuyerID: middleware.UserIDFromContext(r.Context()),
			Rating:  payload.Rating,
			Comment: payload.Comment,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, reviewResponse{
			ReviewID:  review.ID,
			OrderID:   review.OrderID,
			SellerID:  review.SellerID,
			Rating:    review.Rating,
			Comment:   review.Comment,
			CreatedAt: review.CreatedAt,
		})
	}
}

// SellerRating exposes the aggregate score shown on seller profiles.
func SellerRating(svc reviews.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, err := pathUUID(r, "sellerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rating, err := svc.SellerRating(r.Context(), sellerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sellerRatingResponse{
			SellerID: sellerID,
			Average:  rating.Average,
			Count:    rating.Count,
		})
	}
}

type createReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"omitempty,max=2000"`
}

type reviewResponse struct {
	ReviewID  uuid.UUID `json:"review_id"`
	OrderID   uuid.UUID `json:"order_id"`
	SellerID  uuid.UUID `json:"seller_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type sellerRatingResponse struct {
	SellerID uuid.UUID `json:"seller_id"`
	Average  float64   `json:"average"`
	Count    int64     `json:"count"`
}
