package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/api/responses"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

const actorHeader = "X-User-Id"

// Actor resolves the authenticated user from the identity header set by the
// edge gateway. Requests that reach this service without the header are
// rejected; the gateway terminates the actual session.
func Actor(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(actorHeader)
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing identity header"))
				return
			}

			userID, err := uuid.Parse(raw)
			if err != nil || userID == uuid.Nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid identity header"))
				return
			}

			ctx := WithUserID(r.Context(), userID)
			if logg != nil {
				ctx = logg.WithUserID(ctx, userID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
