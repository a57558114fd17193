package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/salesdesk/crm-management/internal"
)

var _ = ginkgo.Describe("AuthHandler", func() {
	var (
		ctx     context.Context
		repo    *mockRepository
		issuer  *TokenIssuer
		service *Service
		handler *Handler
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		repo = newMockRepository()
		cfg := testSecurityConfig()
		issuer = NewTokenIssuer(cfg, repo, testLogger())
		service = NewService(repo, issuer, nil, testLogger(), cfg)
		handler = NewHandler(service, false)
	})

	postJSON := func(h http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
		payload, err := json.Marshal(body)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec
	}

	refreshCookie := func(rec *httptest.ResponseRecorder) *http.Cookie {
		for _, c := range rec.Result().Cookies() {
			if c.Name == RefreshCookieName {
				return c
			}
		}
		return nil
	}

	login := func(email, password string) *httptest.ResponseRecorder {
		return postJSON(handler.Login, "/auth/login", LoginDTO{Email: email, Password: password})
	}

	ginkgo.Describe("Register", func() {
		validBody := RegisterDTO{
			Email:     "new@example.com",
			Password:  "secure_password",
			FirstName: "New",
			LastName:  "Person",
			Role:      "SALES_REP",
		}

		ginkgo.It("should respond 201 with the access token and set the refresh cookie", func() {
			// When
			rec := postJSON(handler.Register, "/auth/register", validBody)

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusCreated))

			var resp AuthResponse
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp.AccessToken).ToNot(gomega.BeEmpty())
			gomega.Expect(resp.User.Email).To(gomega.Equal("new@example.com"))
			gomega.Expect(resp.AccessTokenExpiry.IsZero()).To(gomega.BeFalse())

			cookie := refreshCookie(rec)
			gomega.Expect(cookie).ToNot(gomega.BeNil())
			gomega.Expect(cookie.Value).ToNot(gomega.BeEmpty())
			gomega.Expect(cookie.HttpOnly).To(gomega.BeTrue())
			gomega.Expect(cookie.Path).To(gomega.Equal("/"))
			gomega.Expect(cookie.Secure).To(gomega.BeFalse())
			gomega.Expect(cookie.SameSite).To(gomega.Equal(http.SameSiteLaxMode))
		})

		ginkgo.It("should never put the refresh token in the response body", func() {
			// When
			rec := postJSON(handler.Register, "/auth/register", validBody)

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusCreated))
			gomega.Expect(rec.Body.String()).ToNot(gomega.ContainSubstring("refreshToken"))
		})

		ginkgo.It("should respond 409 for a duplicate email", func() {
			// Given
			seedUser(repo, "user-1", "new@example.com", RoleSalesRep, "tenant-main", nil)

			// When
			rec := postJSON(handler.Register, "/auth/register", validBody)

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusConflict))
		})

		ginkgo.It("should respond 400 for an invalid role", func() {
			// Given
			body := validBody
			body.Role = "WIZARD"

			// When
			rec := postJSON(handler.Register, "/auth/register", body)

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("should respond 400 for a body that is not JSON", func() {
			// When
			req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader([]byte("{not json")))
			rec := httptest.NewRecorder()
			handler.Register(rec, req)

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})

	ginkgo.Describe("Login", func() {
		ginkgo.BeforeEach(func() {
			seedUser(repo, "user-1", "user@example.com", RoleSalesRep, "tenant-main", nil)
		})

		ginkgo.It("should respond 200 with tokens and the cookie", func() {
			// When
			rec := login("user@example.com", "correct_password")

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(refreshCookie(rec)).ToNot(gomega.BeNil())
		})

		ginkgo.It("should answer an unknown email and a wrong password identically", func() {
			// When
			unknown := login("nobody@example.com", "correct_password")
			wrong := login("user@example.com", "wrong_password")

			// Then
			gomega.Expect(unknown.Code).To(gomega.Equal(http.StatusUnauthorized))
			gomega.Expect(wrong.Code).To(gomega.Equal(http.StatusUnauthorized))
			gomega.Expect(unknown.Body.String()).To(gomega.Equal(wrong.Body.String()))
		})

		ginkgo.It("should respond 503 when the store is down", func() {
			// Given
			repo.userError = internal.ErrStoreUnavailable

			// When
			rec := login("user@example.com", "correct_password")

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusServiceUnavailable))
		})
	})

	ginkgo.Describe("Refresh", func() {
		var refreshToken string

		ginkgo.BeforeEach(func() {
			user := seedUser(repo, "user-1", "user@example.com", RoleSalesRep, "tenant-main", nil)
			pair, err := issuer.IssuePair(ctx, user)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			refreshToken = pair.RefreshToken
		})

		ginkgo.It("should rotate from the cookie", func() {
			// Given
			req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
			req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: refreshToken})
			rec := httptest.NewRecorder()

			// When
			handler.Refresh(rec, req)

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			cookie := refreshCookie(rec)
			gomega.Expect(cookie).ToNot(gomega.BeNil())
			gomega.Expect(cookie.Value).ToNot(gomega.Equal(refreshToken))
		})

		ginkgo.It("should rotate from the request body when there is no cookie", func() {
			// When
			rec := postJSON(handler.Refresh, "/auth/refresh", RefreshTokenDTO{RefreshToken: refreshToken})

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
		})

		ginkgo.It("should respond 401 when no token arrives at all", func() {
			// When
			req := httptest.NewRequest(http.MethodPost, "/auth/refresh", bytes.NewReader([]byte("{}")))
			rec := httptest.NewRecorder()
			handler.Refresh(rec, req)

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
		})

		ginkgo.It("should respond 401 for a revoked token", func() {
			// Given
			gomega.Expect(service.RevokeAllForUser(ctx, "user-1")).To(gomega.Succeed())

			// When
			rec := postJSON(handler.Refresh, "/auth/refresh", RefreshTokenDTO{RefreshToken: refreshToken})

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
		})
	})

	ginkgo.Describe("Logout", func() {
		var refreshToken string

		ginkgo.BeforeEach(func() {
			user := seedUser(repo, "user-1", "user@example.com", RoleSalesRep, "tenant-main", nil)
			pair, err := issuer.IssuePair(ctx, user)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			refreshToken = pair.RefreshToken
		})

		ginkgo.It("should revoke the cookie token and clear the cookie", func() {
			// Given
			req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
			req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: refreshToken})
			rec := httptest.NewRecorder()

			// When
			handler.Logout(rec, req)

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			cookie := refreshCookie(rec)
			gomega.Expect(cookie).ToNot(gomega.BeNil())
			gomega.Expect(cookie.MaxAge).To(gomega.BeNumerically("<", 0))

			// The token no longer refreshes.
			refreshRec := postJSON(handler.Refresh, "/auth/refresh", RefreshTokenDTO{RefreshToken: refreshToken})
			gomega.Expect(refreshRec.Code).To(gomega.Equal(http.StatusUnauthorized))
		})

		ginkgo.It("should succeed with no body and no cookie", func() {
			// When
			req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
			rec := httptest.NewRecorder()
			handler.Logout(rec, req)

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
		})

		ginkgo.It("should revoke all sessions for a user id in the body", func() {
			// When
			rec := postJSON(handler.Logout, "/auth/logout", LogoutDTO{UserID: "user-1"})

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(repo.tokens).To(gomega.BeEmpty())
		})
	})

	ginkgo.Describe("AutoRefresh", func() {
		ginkgo.It("should decline rotation for a fresh access token", func() {
			// Given
			user := seedUser(repo, "user-1", "user@example.com", RoleSalesRep, "tenant-main", nil)
			pair, err := issuer.IssuePair(ctx, user)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			// When
			rec := postJSON(handler.AutoRefresh, "/auth/auto-refresh", AutoRefreshDTO{
				AccessToken:  pair.AccessToken,
				RefreshToken: pair.RefreshToken,
			})

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			var resp AutoRefreshResponse
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp.ShouldRefresh).To(gomega.BeFalse())
			gomega.Expect(resp.Tokens).To(gomega.BeNil())
		})

		ginkgo.It("should respond 400 when a token is missing", func() {
			// When
			rec := postJSON(handler.AutoRefresh, "/auth/auto-refresh", AutoRefreshDTO{AccessToken: "x"})

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})

	ginkgo.Describe("ValidateToken", func() {
		ginkgo.It("should report a live token valid", func() {
			// Given
			user := seedUser(repo, "user-1", "user@example.com", RoleSalesRep, "tenant-main", nil)
			token, _, err := issuer.IssueAccessToken(user)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			// When
			rec := postJSON(handler.ValidateToken, "/auth/validate-token", ValidateTokenDTO{AccessToken: token})

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			var status TokenStatus
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &status)).To(gomega.Succeed())
			gomega.Expect(status.Valid).To(gomega.BeTrue())
			gomega.Expect(status.Expired).To(gomega.BeFalse())
			gomega.Expect(status.Payload.UserID).To(gomega.Equal("user-1"))
		})

		ginkgo.It("should report garbage invalid without an error status", func() {
			// When
			rec := postJSON(handler.ValidateToken, "/auth/validate-token", ValidateTokenDTO{AccessToken: "garbage"})

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			var status TokenStatus
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &status)).To(gomega.Succeed())
			gomega.Expect(status.Valid).To(gomega.BeFalse())
		})
	})

	ginkgo.Describe("UpdateProfile", func() {
		ginkgo.BeforeEach(func() {
			seedUser(repo, "user-1", "user@example.com", RoleSalesRep, "tenant-main", nil)
		})

		ginkgo.It("should update the caller's profile", func() {
			// Given
			payload, err := json.Marshal(UpdateProfileDTO{FirstName: ptr("Renamed")})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			req := httptest.NewRequest(http.MethodPut, "/auth/profile", bytes.NewReader(payload))
			ident := &Identity{UserID: "user-1", Email: "user@example.com", Role: RoleSalesRep, TenantID: "tenant-main"}
			req = req.WithContext(ContextWithIdentity(req.Context(), ident))
			rec := httptest.NewRecorder()

			// When
			handler.UpdateProfile(rec, req)

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			var u User
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &u)).To(gomega.Succeed())
			gomega.Expect(u.FirstName).To(gomega.Equal("Renamed"))
		})

		ginkgo.It("should respond 401 without an authenticated identity", func() {
			// When
			rec := postJSON(handler.UpdateProfile, "/auth/profile", UpdateProfileDTO{FirstName: ptr("X")})

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
		})
	})
})
