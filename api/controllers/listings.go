package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/api/middleware"
	"github.com/ggmarket/ggmarket-backend/api/responses"
	"github.com/ggmarket/ggmarket-backend/api/validators"
	"github.com/ggmarket/ggmarket-backend/internal/inventory"
	"github.com/ggmarket/ggmarket-backend/internal/listings"
	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

// CreateListing registers a new unpublished listing for the caller.
func CreateListing(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createListingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		deliveryType := enums.DeliveryType(payload.DeliveryType)
		if !deliveryType.IsValid() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown delivery type"))
			return
		}

		listing, err := svc.Create(r.Context(), listings.CreateInput{
			SellerID:       middleware.UserIDFromContext(r.Context()),
			Title:          validators.SanitizeString(payload.Title, 200),
			UnitPriceCents: payload.UnitPriceCents,
			DeliveryType:   deliveryType,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newListingResponse(listing))
	}
}

// PublishListing toggles buyer visibility.
func PublishListing(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listingID, err := pathUUID(r, "listingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload publishListingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sellerID := middleware.UserIDFromContext(r.Context())
		if err := svc.SetPublished(r.Context(), listingID, sellerID, payload.Published); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"published": payload.Published})
	}
}

// AddInventory loads deliverable units onto an automatic-delivery listing.
func AddInventory(listingSvc listings.Service, inventorySvc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listingID, err := pathUUID(r, "listingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		listing, err := listingSvc.Get(r.Context(), listingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if listing.SellerID != middleware.UserIDFromContext(r.Context()) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "listing belongs to another seller"))
			return
		}

		var payload addInventoryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items, err := inventorySvc.AddItems(r.Context(), inventory.AddItemsInput{
			ListingID: listingID,
			Payloads:  payload.Payloads,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]int{"added": len(items)})
	}
}

// InventoryCount reports sellable stock for a listing.
func InventoryCount(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listingID, err := pathUUID(r, "listingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		count, err := svc.AvailableCount(r.Context(), listingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"available": count})
	}
}

type createListingRequest struct {
	Title          string `json:"title" validate:"required,min=3,max=200"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"required,min=1"`
	DeliveryType   string `json:"delivery_type" validate:"required,oneof=auto manual"`
}

type publishListingRequest struct {
	Published bool `json:"published"`
}

type addInventoryRequest struct {
	Payloads []string `json:"payloads" validate:"required,min=1,max=500,dive,required"`
}

type listingResponse struct {
	ListingID      uuid.UUID `json:"listing_id"`
	SellerID       uuid.UUID `json:"seller_id"`
	Title          string    `json:"title"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Currency       string    `json:"currency"`
	DeliveryType   string    `json:"delivery_type"`
	Published      bool      `json:"published"`
	CreatedAt      time.Time `json:"created_at"`
}

func newListingResponse(listing *models.Listing) listingResponse {
	return listingResponse{
		ListingID:      listing.ID,
		SellerID:       listing.SellerID,
		Title:          listing.Title,
		UnitPriceCents: listing.UnitPriceCents,
		Currency:       listing.Currency,
		DeliveryType:   string(listing.DeliveryType),
		Published:      listing.Published,
		CreatedAt:      listing.CreatedAt,
	}
}
