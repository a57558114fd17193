package user

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"

	"github.com/salesdesk/crm-management/internal"
	"github.com/salesdesk/crm-management/internal/auth"
	"github.com/salesdesk/crm-management/internal/permission"
)

var _ = ginkgo.Describe("UserHandler", func() {
	var (
		repo     *mockRepository
		resolver *stubResolver
		handler  *Handler

		admin   *auth.User
		manager *auth.User
		rep     *auth.User
	)

	seed := func(id, email string, role auth.Role, tenantID string) *auth.User {
		return repo.addUser(&auth.User{
			UserID:    id,
			Email:     email,
			FirstName: "User",
			LastName:  id,
			Role:      role,
			TenantID:  tenantID,
		})
	}

	ginkgo.BeforeEach(func() {
		repo = newMockRepository()
		resolver = &stubResolver{reports: make(map[string][]*auth.User)}
		engine := permission.NewEngine(permission.DefaultMatrix(), resolver, testLogger())
		service := NewService(repo, resolver, engine, &stubRevoker{}, nil, testLogger(), internal.SecurityConfig{
			BCryptCost: bcrypt.MinCost,
		})
		handler = NewHandler(service)

		admin = seed("admin-1", "admin@acme.io", auth.RoleAdmin, "tenant-main")
		manager = seed("mgr-1", "mgr@acme.io", auth.RoleSalesManager, "tenant-main")
		rep = seed("rep-1", "rep1@acme.io", auth.RoleSalesRep, "tenant-main")
		seed("rep-2", "rep2@acme.io", auth.RoleSalesRep, "tenant-main")

		resolver.reports["tenant-main/mgr-1"] = []*auth.User{rep}
	})

	newRequest := func(method, target string, body []byte, u *auth.User) *http.Request {
		req := httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if u != nil {
			req = req.WithContext(auth.ContextWithIdentity(req.Context(), &auth.Identity{
				UserID:   u.UserID,
				Email:    u.Email,
				Role:     u.Role,
				TenantID: u.TenantID,
			}))
		}
		return req
	}

	withRouteParam := func(req *http.Request, key, value string) *http.Request {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add(key, value)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	ginkgo.Describe("Me", func() {
		ginkgo.It("should respond 200 with the caller's record", func() {
			rec := httptest.NewRecorder()
			handler.Me(rec, newRequest(http.MethodGet, "/api/v1/users/me", nil, rep))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))

			var body auth.User
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(gomega.Succeed())
			gomega.Expect(body.Email).To(gomega.Equal("rep1@acme.io"))
			gomega.Expect(rec.Body.String()).ToNot(gomega.ContainSubstring("passwordHash"))
		})

		ginkgo.It("should respond 401 without an identity", func() {
			rec := httptest.NewRecorder()
			handler.Me(rec, newRequest(http.MethodGet, "/api/v1/users/me", nil, nil))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
		})
	})

	ginkgo.Describe("Team", func() {
		ginkgo.It("should respond 200 with the caller's direct reports", func() {
			rec := httptest.NewRecorder()
			handler.Team(rec, newRequest(http.MethodGet, "/api/v1/users/team", nil, manager))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))

			var body []auth.User
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(gomega.Succeed())
			gomega.Expect(body).To(gomega.HaveLen(1))
			gomega.Expect(body[0].UserID).To(gomega.Equal("rep-1"))
		})
	})

	ginkgo.Describe("List", func() {
		ginkgo.It("should respond 200 with the tenant directory for an admin", func() {
			rec := httptest.NewRecorder()
			handler.List(rec, newRequest(http.MethodGet, "/api/v1/users", nil, admin))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))

			var body []auth.User
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(gomega.Succeed())
			gomega.Expect(body).To(gomega.HaveLen(4))
		})
	})

	ginkgo.Describe("Create", func() {
		validBody := func() []byte {
			payload, err := json.Marshal(auth.RegisterDTO{
				Email:     "new.rep@acme.io",
				Password:  "Str0ngPassw0rd!",
				FirstName: "Nia",
				LastName:  "Okafor",
				Role:      "SALES_REP",
			})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			return payload
		}

		ginkgo.It("should respond 201 with the created user", func() {
			rec := httptest.NewRecorder()
			handler.Create(rec, newRequest(http.MethodPost, "/api/v1/users", validBody(), admin))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusCreated))

			var body auth.User
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(gomega.Succeed())
			gomega.Expect(body.UserID).ToNot(gomega.BeEmpty())
			gomega.Expect(body.Email).To(gomega.Equal("new.rep@acme.io"))
			gomega.Expect(rec.Body.String()).ToNot(gomega.ContainSubstring("passwordHash"))
		})

		ginkgo.It("should respond 400 for a malformed body", func() {
			rec := httptest.NewRecorder()
			handler.Create(rec, newRequest(http.MethodPost, "/api/v1/users", []byte("not json"), admin))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("should respond 403 for a rep", func() {
			rec := httptest.NewRecorder()
			handler.Create(rec, newRequest(http.MethodPost, "/api/v1/users", validBody(), rep))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusForbidden))
		})

		ginkgo.It("should respond 409 for a duplicate email", func() {
			seed("rep-3", "new.rep@acme.io", auth.RoleSalesRep, "tenant-main")

			rec := httptest.NewRecorder()
			handler.Create(rec, newRequest(http.MethodPost, "/api/v1/users", validBody(), admin))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusConflict))
		})

		ginkgo.It("should respond 401 without an identity", func() {
			rec := httptest.NewRecorder()
			handler.Create(rec, newRequest(http.MethodPost, "/api/v1/users", validBody(), nil))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
		})
	})

	ginkgo.Describe("ChangeRole", func() {
		roleBody := func(role string) []byte {
			payload, err := json.Marshal(ChangeRoleDTO{Role: role})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			return payload
		}

		ginkgo.It("should respond 200 with the updated user", func() {
			req := newRequest(http.MethodPatch, "/api/v1/users/rep-2/role", roleBody("SALES_MANAGER"), admin)
			rec := httptest.NewRecorder()
			handler.ChangeRole(rec, withRouteParam(req, "id", "rep-2"))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))

			var body auth.User
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(gomega.Succeed())
			gomega.Expect(body.Role).To(gomega.Equal(auth.RoleSalesManager))
		})

		ginkgo.It("should respond 400 when the role is missing", func() {
			req := newRequest(http.MethodPatch, "/api/v1/users/rep-2/role", roleBody(""), admin)
			rec := httptest.NewRecorder()
			handler.ChangeRole(rec, withRouteParam(req, "id", "rep-2"))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("should respond 400 for an unknown role", func() {
			req := newRequest(http.MethodPatch, "/api/v1/users/rep-2/role", roleBody("WIZARD"), admin)
			rec := httptest.NewRecorder()
			handler.ChangeRole(rec, withRouteParam(req, "id", "rep-2"))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("should respond 400 without a user id", func() {
			req := newRequest(http.MethodPatch, "/api/v1/users//role", roleBody("SALES_MANAGER"), admin)
			rec := httptest.NewRecorder()
			handler.ChangeRole(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("should respond 403 for a rep", func() {
			req := newRequest(http.MethodPatch, "/api/v1/users/rep-2/role", roleBody("SALES_MANAGER"), rep)
			rec := httptest.NewRecorder()
			handler.ChangeRole(rec, withRouteParam(req, "id", "rep-2"))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusForbidden))
		})

		ginkgo.It("should respond 404 for a missing user", func() {
			req := newRequest(http.MethodPatch, "/api/v1/users/nobody/role", roleBody("SALES_MANAGER"), admin)
			rec := httptest.NewRecorder()
			handler.ChangeRole(rec, withRouteParam(req, "id", "nobody"))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusNotFound))
		})
	})

	ginkgo.Describe("Delete", func() {
		ginkgo.It("should respond 200 and tombstone the user", func() {
			req := newRequest(http.MethodDelete, "/api/v1/users/rep-1", nil, admin)
			rec := httptest.NewRecorder()
			handler.Delete(rec, withRouteParam(req, "id", "rep-1"))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring("user deleted"))
			gomega.Expect(repo.usersByID["rep-1"].IsDeleted).To(gomega.BeTrue())
		})

		ginkgo.It("should respond 403 for a manager", func() {
			req := newRequest(http.MethodDelete, "/api/v1/users/rep-1", nil, manager)
			rec := httptest.NewRecorder()
			handler.Delete(rec, withRouteParam(req, "id", "rep-1"))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusForbidden))
		})

		ginkgo.It("should respond 404 for a missing user", func() {
			req := newRequest(http.MethodDelete, "/api/v1/users/nobody", nil, admin)
			rec := httptest.NewRecorder()
			handler.Delete(rec, withRouteParam(req, "id", "nobody"))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusNotFound))
		})
	})
})
