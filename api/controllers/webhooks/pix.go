package webhooks

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ggmarket/ggmarket-backend/api/responses"
	pixwebhook "github.com/ggmarket/ggmarket-backend/internal/webhooks/pix"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

const maxWebhookBodyBytes = 1 << 20

// PixWebhook receives provider notifications. It only persists and enqueues;
// a non-2xx response makes the provider redeliver, so duplicates answer 200.
func PixWebhook(svc pixwebhook.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable webhook body"))
			return
		}
		if len(body) == 0 || !json.Valid(body) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook body must be json"))
			return
		}

		result, err := svc.Ingest(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if logg != nil && result.Duplicate {
			ctx := logg.WithField(r.Context(), "event_id", result.EventID.String())
			logg.Info(ctx, "duplicate pix notification acknowledged")
		}

		responses.WriteSuccess(w, map[string]any{
			"event_id": result.EventID,
			"received": true,
		})
	}
}
