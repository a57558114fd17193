package auth

import "strings"

// Role is the canonical role enumeration. Only the four canonical values
// ever circulate internally; legacy spellings are folded in by NormalizeRole.
type Role string

const (
	RoleSuperAdmin   Role = "SUPER_ADMIN"
	RoleAdmin        Role = "ADMIN"
	RoleSalesManager Role = "SALES_MANAGER"
	RoleSalesRep     Role = "SALES_REP"
)

// ordinal, highest first: SUPER_ADMIN > ADMIN > SALES_MANAGER > SALES_REP
var roleOrdinals = map[Role]int{
	RoleSuperAdmin:   4,
	RoleAdmin:        3,
	RoleSalesManager: 2,
	RoleSalesRep:     1,
}

// legacy aliases still arrive from older clients and stored records
var roleAliases = map[string]Role{
	"SUPER_ADMIN":          RoleSuperAdmin,
	"SUPERADMIN":           RoleSuperAdmin,
	"ADMIN":                RoleAdmin,
	"ADMINISTRATOR":        RoleAdmin,
	"SALES_MANAGER":        RoleSalesManager,
	"MANAGER":              RoleSalesManager,
	"SALES_REP":            RoleSalesRep,
	"REP":                  RoleSalesRep,
	"SALES_REPRESENTATIVE": RoleSalesRep,
}

// NormalizeRole maps any accepted role spelling to its canonical form.
// Every boundary that ingests a role string (request bodies, store reads,
// token claims) goes through here so permission decisions only ever see
// canonical values.
func NormalizeRole(raw string) (Role, bool) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	role, ok := roleAliases[key]
	return role, ok
}

// MustNormalizeRole is NormalizeRole for values already validated upstream;
// unknown input degrades to the least-privileged role rather than panicking.
func MustNormalizeRole(raw string) Role {
	if role, ok := NormalizeRole(raw); ok {
		return role
	}
	return RoleSalesRep
}

func (r Role) Valid() bool {
	_, ok := roleOrdinals[r]
	return ok
}

func (r Role) Ordinal() int {
	return roleOrdinals[r]
}

// AtLeast reports whether r sits at or above other in the hierarchy.
func (r Role) AtLeast(other Role) bool {
	return roleOrdinals[r] >= roleOrdinals[other]
}

// OneLevelAbove returns the role directly above r in the hierarchy.
// Reporting lines must point exactly one level up, so a SALES_REP reports
// to a SALES_MANAGER and a SALES_MANAGER reports to an ADMIN.
func (r Role) OneLevelAbove() (Role, bool) {
	switch r {
	case RoleSalesRep:
		return RoleSalesManager, true
	case RoleSalesManager:
		return RoleAdmin, true
	case RoleAdmin:
		return RoleSuperAdmin, true
	default:
		return "", false
	}
}
