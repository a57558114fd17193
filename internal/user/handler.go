package user

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/salesdesk/crm-management/internal"
	"github.com/salesdesk/crm-management/internal/auth"
	"github.com/salesdesk/crm-management/internal/transport"
	"github.com/salesdesk/crm-management/pkg/logger"
)

// ServiceAPI is the directory surface the HTTP layer depends on.
type ServiceAPI interface {
	GetCurrentUser(ctx context.Context, ident *auth.Identity) (*auth.User, error)
	Team(ctx context.Context, ident *auth.Identity) ([]*auth.User, error)
	List(ctx context.Context, ident *auth.Identity) ([]*auth.User, error)
	Create(ctx context.Context, actor *auth.Identity, dto auth.RegisterDTO) (*auth.User, error)
	ChangeRole(ctx context.Context, actor *auth.Identity, userID, role string) (*auth.User, error)
	Delete(ctx context.Context, actor *auth.Identity, userID string) error
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

// Me returns the authenticated caller's own record.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	u, err := h.Service.GetCurrentUser(r.Context(), ident)
	if err != nil {
		h.handleError(w, err, "Me: lookup failed")
		return
	}

	h.WriteJSON(w, http.StatusOK, u)
}

// Team returns the caller's direct reports.
func (h *Handler) Team(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	reports, err := h.Service.Team(r.Context(), ident)
	if err != nil {
		h.handleError(w, err, "Team: resolution failed")
		return
	}

	h.WriteJSON(w, http.StatusOK, reports)
}

// List returns the tenant's users visible to the caller.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	users, err := h.Service.List(r.Context(), ident)
	if err != nil {
		h.handleError(w, err, "List: listing failed")
		return
	}

	h.WriteJSON(w, http.StatusOK, users)
}

// Create provisions a new user in the actor's tenant.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var dto auth.RegisterDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.Service.Create(r.Context(), ident, dto)
	if err != nil {
		h.handleError(w, err, "Create: user creation failed")
		return
	}

	h.Logger.Info("Create: user created", "user_id", u.UserID, "created_by", ident.UserID)
	h.WriteJSON(w, http.StatusCreated, u)
}

// ChangeRole moves the addressed user to a new role.
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	userID := chi.URLParam(r, "id")
	if userID == "" {
		h.WriteError(w, http.StatusBadRequest, "missing user id")
		return
	}

	var dto ChangeRoleDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.Service.ChangeRole(r.Context(), ident, userID, dto.Role)
	if err != nil {
		h.handleError(w, err, "ChangeRole: role change failed")
		return
	}

	h.WriteJSON(w, http.StatusOK, u)
}

// Delete soft deletes the addressed user.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	userID := chi.URLParam(r, "id")
	if userID == "" {
		h.WriteError(w, http.StatusBadRequest, "missing user id")
		return
	}

	if err := h.Service.Delete(r.Context(), ident, userID); err != nil {
		h.handleError(w, err, "Delete: soft delete failed")
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

func (h *Handler) handleError(w http.ResponseWriter, err error, logMsg string) {
	h.Logger.Error(logMsg, "error", err)

	if _, ok := err.(auth.ValidationError); ok {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := internal.IsAppError(err); ok {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteError(w, http.StatusInternalServerError, "internal server error")
}
