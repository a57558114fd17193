package middleware

import (
	"log/slog"
	"net/http"

	"github.com/salesdesk/crm-management/internal/auth"
	"github.com/salesdesk/crm-management/internal/permission"
)

// RequirePermission guards a route group behind a static matrix check: the
// caller's role must hold the action on the resource type at all. Instance
// level ownership is the handler's job; this gate only keeps roles with no
// grant whatsoever out of the route.
func RequirePermission(engine *permission.Engine, logger *slog.Logger, resourceType permission.ResourceType, action permission.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !engine.Can(ident.Role, resourceType, action) {
				logger.Warn("access denied: role lacks static grant",
					"user_id", ident.UserID,
					"role", string(ident.Role),
					"resource_type", string(resourceType),
					"action", string(action))
				http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
