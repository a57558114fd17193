package auth

import (
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = ginkgo.Describe("NormalizeRole", func() {
	ginkgo.Context("with canonical values", func() {
		ginkgo.It("should return them unchanged", func() {
			for _, role := range []Role{RoleSuperAdmin, RoleAdmin, RoleSalesManager, RoleSalesRep} {
				got, ok := NormalizeRole(string(role))
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(got).To(gomega.Equal(role))
			}
		})
	})

	ginkgo.Context("with legacy spellings", func() {
		ginkgo.It("should fold aliases to canonical roles", func() {
			cases := map[string]Role{
				"MANAGER":              RoleSalesManager,
				"REP":                  RoleSalesRep,
				"SALES_REPRESENTATIVE": RoleSalesRep,
				"ADMINISTRATOR":        RoleAdmin,
				"SUPERADMIN":           RoleSuperAdmin,
			}
			for raw, want := range cases {
				got, ok := NormalizeRole(raw)
				gomega.Expect(ok).To(gomega.BeTrue(), "alias %q", raw)
				gomega.Expect(got).To(gomega.Equal(want), "alias %q", raw)
			}
		})

		ginkgo.It("should ignore case, whitespace and separator style", func() {
			for _, raw := range []string{"sales_manager", " Sales Manager ", "SALES-MANAGER", "manager"} {
				got, ok := NormalizeRole(raw)
				gomega.Expect(ok).To(gomega.BeTrue(), "input %q", raw)
				gomega.Expect(got).To(gomega.Equal(RoleSalesManager), "input %q", raw)
			}
		})
	})

	ginkgo.Context("with unknown input", func() {
		ginkgo.It("should report failure", func() {
			for _, raw := range []string{"", "WIZARD", "SUPER", "ADMIN2"} {
				_, ok := NormalizeRole(raw)
				gomega.Expect(ok).To(gomega.BeFalse(), "input %q", raw)
			}
		})

		ginkgo.It("should degrade to the least privileged role in MustNormalizeRole", func() {
			gomega.Expect(MustNormalizeRole("WIZARD")).To(gomega.Equal(RoleSalesRep))
		})
	})
})

var _ = ginkgo.Describe("Role hierarchy", func() {
	ginkgo.It("should order the four roles strictly", func() {
		gomega.Expect(RoleSuperAdmin.Ordinal()).To(gomega.BeNumerically(">", RoleAdmin.Ordinal()))
		gomega.Expect(RoleAdmin.Ordinal()).To(gomega.BeNumerically(">", RoleSalesManager.Ordinal()))
		gomega.Expect(RoleSalesManager.Ordinal()).To(gomega.BeNumerically(">", RoleSalesRep.Ordinal()))
	})

	ginkgo.Describe("AtLeast", func() {
		ginkgo.It("should hold for the role itself and everything below", func() {
			gomega.Expect(RoleAdmin.AtLeast(RoleAdmin)).To(gomega.BeTrue())
			gomega.Expect(RoleAdmin.AtLeast(RoleSalesManager)).To(gomega.BeTrue())
			gomega.Expect(RoleAdmin.AtLeast(RoleSalesRep)).To(gomega.BeTrue())
		})

		ginkgo.It("should fail upward", func() {
			gomega.Expect(RoleSalesRep.AtLeast(RoleSalesManager)).To(gomega.BeFalse())
			gomega.Expect(RoleSalesManager.AtLeast(RoleAdmin)).To(gomega.BeFalse())
			gomega.Expect(RoleAdmin.AtLeast(RoleSuperAdmin)).To(gomega.BeFalse())
		})
	})

	ginkgo.Describe("OneLevelAbove", func() {
		ginkgo.It("should walk the chain rep, manager, admin, super admin", func() {
			above, ok := RoleSalesRep.OneLevelAbove()
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(above).To(gomega.Equal(RoleSalesManager))

			above, ok = RoleSalesManager.OneLevelAbove()
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(above).To(gomega.Equal(RoleAdmin))

			above, ok = RoleAdmin.OneLevelAbove()
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(above).To(gomega.Equal(RoleSuperAdmin))
		})

		ginkgo.It("should stop at the top", func() {
			_, ok := RoleSuperAdmin.OneLevelAbove()
			gomega.Expect(ok).To(gomega.BeFalse())
		})
	})

	ginkgo.Describe("Valid", func() {
		ginkgo.It("should accept canonical roles only", func() {
			gomega.Expect(RoleSuperAdmin.Valid()).To(gomega.BeTrue())
			gomega.Expect(Role("MANAGER").Valid()).To(gomega.BeFalse())
			gomega.Expect(Role("").Valid()).To(gomega.BeFalse())
		})
	})
})
