package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/buttonbid-backend/api/responses"
	pkgerrors "github.com/angelmondragon/buttonbid-backend/pkg/errors"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

const (
	UserIDHeader    = "X-User-Id"
	ActorRoleHeader = "X-Actor-Role"

	RoleOps = "ops"
)

// Actor resolves the caller from the identity headers set by the upstream
// gateway and seeds the request context with it.
func Actor(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing caller identity"))
				return
			}
			userID, err := uuid.Parse(raw)
			if err != nil || userID == uuid.Nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid caller identity"))
				return
			}

			role := strings.ToLower(strings.TrimSpace(r.Header.Get(ActorRoleHeader)))

			ctx := WithUserID(r.Context(), userID.String())
			if role != "" {
				ctx = WithRole(ctx, role)
			}

			if logg != nil {
				fields := map[string]any{"user_id": userID.String()}
				if role != "" {
					fields["actor_role"] = role
				}
				ctx = logg.WithFields(ctx, fields)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
