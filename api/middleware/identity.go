package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/chatloop/chatloop-backend/api/responses"
	pkgerrors "github.com/chatloop/chatloop-backend/pkg/errors"
	"github.com/chatloop/chatloop-backend/pkg/logger"
)

const userIDHeader = "X-User-ID"

// Identity resolves the acting user from the X-User-ID header set by the
// authenticating proxy. Requests without a valid user id are rejected before
// they reach any handler.
func Identity(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(userIDHeader))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
				return
			}

			uid, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user identity"))
				return
			}

			ctx := WithUserID(r.Context(), uid.String())
			if logg != nil {
				ctx = logg.WithField(ctx, "user_id", uid.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
