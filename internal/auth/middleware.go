package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/salesdesk/crm-management/internal"
	"github.com/salesdesk/crm-management/internal/obs"
	"github.com/salesdesk/crm-management/internal/transport"
	"github.com/salesdesk/crm-management/pkg/logger"
)

// Gate authenticates every request on a protected route. The user record is
// re-read from the store on each request so role and tenant changes and soft
// deletes apply immediately instead of waiting out the access token.
type Gate struct {
	*transport.BaseHandler
	service ServiceAPI

	// failOpen trusts verified token claims when the store cannot be
	// reached. Only connectivity failures qualify; "user not found" always
	// rejects.
	failOpen bool
}

func NewGate(svc ServiceAPI, failOpen bool, lg *slog.Logger) *Gate {
	return &Gate{
		BaseHandler: transport.NewBaseHandler(lg),
		service:     svc,
		failOpen:    failOpen,
	}
}

// Middleware is the per-request authentication state machine: no token 401,
// malformed or bad signature 403, unknown or deleted user 401, store outage
// 503 unless fail-open is configured.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := g.ExtractTokenFromHeader(r)
		if token == "" {
			obs.RecordAuthOutcome(obs.AuthOutcomeMissingToken)
			g.WriteError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		claims, err := g.service.ValidateAccessToken(token)
		if err != nil {
			if errors.Is(err, internal.ErrTokenExpired) {
				obs.RecordAuthOutcome(obs.AuthOutcomeExpiredToken)
				g.WriteError(w, http.StatusUnauthorized, "token expired")
				return
			}
			obs.RecordAuthOutcome(obs.AuthOutcomeInvalidToken)
			g.WriteError(w, http.StatusForbidden, "invalid token")
			return
		}

		u, err := g.service.GetUserByID(r.Context(), claims.UserID)
		if err != nil {
			switch {
			case errors.Is(err, internal.ErrUserNotFound):
				g.Logger.Warn("authenticated token for unknown user", "user_id", claims.UserID)
				obs.RecordAuthOutcome(obs.AuthOutcomeUserNotFound)
				g.WriteError(w, http.StatusUnauthorized, "user not found")
				return
			case errors.Is(err, internal.ErrStoreUnavailable):
				if g.failOpen {
					g.Logger.Warn("credential store unreachable, trusting token claims",
						"user_id", claims.UserID,
						"error", err)
					obs.RecordAuthOutcome(obs.AuthOutcomeFailOpen)
					g.serveWithIdentity(w, r, identityFromClaims(claims), next)
					return
				}
				g.Logger.Error("credential store unreachable during authentication",
					"user_id", claims.UserID,
					"error", err)
				obs.RecordAuthOutcome(obs.AuthOutcomeStoreUnavailable)
				g.WriteError(w, http.StatusServiceUnavailable, "service unavailable")
				return
			default:
				g.Logger.Error("user lookup failed during authentication",
					"user_id", claims.UserID,
					"error", err)
				obs.RecordAuthOutcome(obs.AuthOutcomeStoreUnavailable)
				g.WriteError(w, http.StatusServiceUnavailable, "service unavailable")
				return
			}
		}

		if u.IsDeleted {
			g.Logger.Warn("authenticated token for disabled account", "user_id", u.UserID)
			obs.RecordAuthOutcome(obs.AuthOutcomeAccountDisabled)
			g.WriteError(w, http.StatusUnauthorized, "account is disabled")
			return
		}

		obs.RecordAuthOutcome(obs.AuthOutcomeSuccess)
		g.serveWithIdentity(w, r, u.Identity(), next)
	})
}

func (g *Gate) serveWithIdentity(w http.ResponseWriter, r *http.Request, ident *Identity, next http.Handler) {
	ctx := ContextWithIdentity(r.Context(), ident)
	ctx = logger.With(ctx, "user_id", ident.UserID, "tenant_id", ident.TenantID)
	next.ServeHTTP(w, r.WithContext(ctx))
}

func identityFromClaims(claims *Claims) *Identity {
	return &Identity{
		UserID:   claims.UserID,
		Email:    claims.Email,
		Role:     MustNormalizeRole(claims.Role),
		TenantID: claims.TenantID,
	}
}

// RequireRole guards a route group behind a minimum role ordinal.
func (g *Gate) RequireRole(minRole Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := IdentityFromContext(r.Context())
			if !ok {
				g.WriteError(w, http.StatusUnauthorized, "missing identity")
				return
			}

			if !ident.Role.AtLeast(minRole) {
				g.Logger.Warn("access denied: insufficient role",
					"user_id", ident.UserID,
					"role", ident.Role,
					"required_role", minRole)
				g.WriteError(w, http.StatusForbidden, "insufficient role")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
