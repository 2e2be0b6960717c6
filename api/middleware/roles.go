package middleware

import (
	"net/http"

	"github.com/angelmondragon/buttonbid-backend/api/responses"
	pkgerrors "github.com/angelmondragon/buttonbid-backend/pkg/errors"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

// RequireRole admits callers whose actor role matches any of roles. It must
// run after Actor.
func RequireRole(logg *logger.Logger, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if _, ok := allowed[role]; !ok || role == "" {
				err := pkgerrors.New(pkgerrors.CodeForbidden, "operation requires an elevated role").
					WithDetails(map[string]any{"required": roles})
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
