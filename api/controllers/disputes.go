package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/api/middleware"
	"github.com/ggmarket/ggmarket-backend/api/responses"
	"github.com/ggmarket/ggmarket-backend/api/validators"
	"github.com/ggmarket/ggmarket-backend/internal/disputes"
	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

// OpenDispute lets the buyer contest a paid order before settlement.
func OpenDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload openDisputeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.Open(r.Context(), disputes.OpenInput{
			OrderID: orderID,
			BuyerID: middleware.UserIDFromContext(r.Context()),
			Reason:  validators.SanitizeString(payload.Reason, 2000),
			Meta:    actorMeta(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newDisputeResponse(dispute))
	}
}

// ResolveDispute records the operator's verdict and triggers the matching
// settlement path.
func ResolveDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := pathUUID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload resolveDisputeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.Resolve(r.Context(), disputes.ResolveInput{
			DisputeID: disputeID,
			ActorID:   middleware.UserIDFromContext(r.Context()),
			InFavorOf: disputes.Resolution(payload.InFavorOf),
			Note:      validators.SanitizeString(payload.Note, 2000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newDisputeResponse(dispute))
	}
}

// AddDisputeEvidence attaches a participant's statement to an open dispute.
func AddDisputeEvidence(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := pathUUID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addEvidenceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var attachment *string
		if payload.AttachmentURL != "" {
			url := validators.SanitizeString(payload.AttachmentURL, 2000)
			attachment = &url
		}
		evidence, err := svc.AddEvidence(r.Context(), disputes.EvidenceInput{
			DisputeID:     disputeID,
			SubmittedByID: middleware.UserIDFromContext(r.Context()),
			Body:          validators.SanitizeString(payload.Body, 4000),
			AttachmentURL: attachment,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newEvidenceResponse(evidence))
	}
}

// ListDisputeEvidence returns the evidence trail in submission order.
func ListDisputeEvidence(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := pathUUID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListEvidence(r.Context(), disputeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]evidenceResponse, 0, len(rows))
		for i := range rows {
			out = append(out, newEvidenceResponse(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

type openDisputeRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=2000"`
}

type addEvidenceRequest struct {
	Body          string `json:"body" validate:"required,min=3,max=4000"`
	AttachmentURL string `json:"attachment_url" validate:"omitempty,url,max=2000"`
}

type resolveDisputeRequest struct {
	InFavorOf string `json:"in_favor_of" validate:"required,oneof=buyer seller"`
	Note      string `json:"note" validate:"omitempty,max=2000"`
}

type disputeResponse struct {
	DisputeID  uuid.UUID  `json:"dispute_id"`
	OrderID    uuid.UUID  `json:"order_id"`
	TicketID   uuid.UUID  `json:"ticket_id"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason"`
	Resolution *string    `json:"resolution,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type evidenceResponse struct {
	EvidenceID    uuid.UUID `json:"evidence_id"`
	DisputeID     uuid.UUID `json:"dispute_id"`
	SubmittedByID uuid.UUID `json:"submitted_by_id"`
	Body          string    `json:"body"`
	AttachmentURL *string   `json:"attachment_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func newEvidenceResponse(e *models.DisputeEvidence) evidenceResponse {
	return evidenceResponse{
		EvidenceID:    e.ID,
		DisputeID:     e.DisputeID,
		SubmittedByID: e.SubmittedByID,
		Body:          e.Body,
		AttachmentURL: e.AttachmentURL,
		CreatedAt:     e.CreatedAt,
	}
}

func newDisputeResponse(d *models.Dispute) disputeResponse {
	return disputeResponse{
		DisputeID:  d.ID,
		OrderID:    d.OrderID,
		TicketID:   d.TicketID,
		Status:     string(d.Status),
		Reason:     d.Reason,
		Resolution: d.Resolution,
		ResolvedAt: d.ResolvedAt,
		CreatedAt:  d.CreatedAt,
	}
}
