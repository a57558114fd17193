package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/salesdesk/crm-management/internal"
	"github.com/salesdesk/crm-management/internal/transport"
	"github.com/salesdesk/crm-management/pkg/logger"
)

// RefreshCookieName is the cookie carrying the refresh token for browser
// clients. Non-browser clients may send the token in the request body
// instead.
const RefreshCookieName = "refreshToken"

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI

	// secureCookies switches the cookie to Secure + SameSite=None, which
	// production requires for cross-site frontends. Development stays on
	// SameSite=Lax over plain HTTP.
	secureCookies bool
}

func NewHandler(svc ServiceAPI, secureCookies bool) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler:   transport.NewBaseHandler(lg),
		Service:       svc,
		secureCookies: secureCookies,
	}
}

// AuthResponse is the body returned by register, login and refresh. The
// refresh token itself travels only in the cookie.
type AuthResponse struct {
	AccessToken       string    `json:"accessToken"`
	AccessTokenExpiry time.Time `json:"accessTokenExpiry"`
	User              *User     `json:"user"`
}

type AutoRefreshResponse struct {
	ShouldRefresh bool       `json:"shouldRefresh"`
	Tokens        *TokenPair `json:"tokens,omitempty"`
}

func authResponse(result *AuthResult) AuthResponse {
	return AuthResponse{
		AccessToken:       result.Tokens.AccessToken,
		AccessTokenExpiry: result.Tokens.AccessExpiresAt,
		User:              result.User,
	}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var dto RegisterDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.Service.Register(r.Context(), dto)
	if err != nil {
		h.handleAuthError(w, err, "registration failed")
		return
	}

	h.setRefreshCookie(w, result.Tokens.RefreshToken, result.Tokens.RefreshExpiresAt)
	h.WriteJSON(w, http.StatusCreated, authResponse(result))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.Service.Authenticate(r.Context(), dto)
	if err != nil {
		h.handleAuthError(w, err, "authentication failed")
		return
	}

	h.setRefreshCookie(w, result.Tokens.RefreshToken, result.Tokens.RefreshExpiresAt)
	h.WriteJSON(w, http.StatusOK, authResponse(result))
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := h.refreshTokenFromRequest(r)
	if refreshToken == "" {
		h.WriteError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}

	result, err := h.Service.Refresh(r.Context(), refreshToken)
	if err != nil {
		h.handleAuthError(w, err, "token refresh failed")
		return
	}

	h.setRefreshCookie(w, result.Tokens.RefreshToken, result.Tokens.RefreshExpiresAt)
	h.WriteJSON(w, http.StatusOK, authResponse(result))
}

func (h *Handler) AutoRefresh(w http.ResponseWriter, r *http.Request) {
	var dto AutoRefreshDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rotated, result, err := h.Service.AutoRefresh(r.Context(), dto.AccessToken, dto.RefreshToken)
	if err != nil {
		h.handleAuthError(w, err, "auto refresh failed")
		return
	}

	if !rotated {
		h.WriteJSON(w, http.StatusOK, AutoRefreshResponse{ShouldRefresh: false})
		return
	}

	h.setRefreshCookie(w, result.Tokens.RefreshToken, result.Tokens.RefreshExpiresAt)
	h.WriteJSON(w, http.StatusOK, AutoRefreshResponse{
		ShouldRefresh: true,
		Tokens:        result.Tokens,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var dto LogoutDTO
	if r.Body != nil {
		// Body is optional; the cookie alone is enough.
		_ = json.NewDecoder(r.Body).Decode(&dto)
	}

	refreshToken := dto.RefreshToken
	if cookie, err := r.Cookie(RefreshCookieName); err == nil && cookie.Value != "" {
		refreshToken = cookie.Value
	}

	if err := h.Service.Logout(r.Context(), refreshToken, dto.UserID); err != nil {
		h.handleAuthError(w, err, "logout failed")
		return
	}

	h.clearRefreshCookie(w)
	h.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	var dto ValidateTokenDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.WriteJSON(w, http.StatusOK, h.Service.InspectToken(dto.AccessToken))
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var dto UpdateProfileDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.Service.UpdateProfile(r.Context(), ident.UserID, dto)
	if err != nil {
		h.handleAuthError(w, err, "profile update failed")
		return
	}

	h.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) handleAuthError(w http.ResponseWriter, err error, logMsg string) {
	h.Logger.Error(logMsg, "error", err)

	if _, ok := err.(ValidationError); ok {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := internal.IsAppError(err); ok {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteError(w, http.StatusInternalServerError, "internal server error")
}

func (h *Handler) refreshTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(RefreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	var dto RefreshTokenDTO
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&dto); err == nil {
			return dto.RefreshToken
		}
	}
	return ""
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	sameSite := http.SameSiteLaxMode
	if h.secureCookies {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: sameSite,
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	sameSite := http.SameSiteLaxMode
	if h.secureCookies {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: sameSite,
		MaxAge:   -1,
	})
}
