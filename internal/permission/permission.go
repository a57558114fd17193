package permission

import (
	"github.com/salesdesk/crm-management/internal/auth"
)

// Action is an operation a role may perform on a resource type.
type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionCreate Action = "create"
)

// ResourceType names a kind of CRM record.
type ResourceType string

const (
	ResourceLead       ResourceType = "lead"
	ResourceDeal       ResourceType = "deal"
	ResourceContact    ResourceType = "contact"
	ResourceProduct    ResourceType = "product"
	ResourceQuote      ResourceType = "quote"
	ResourceTask       ResourceType = "task"
	ResourceSubsidiary ResourceType = "subsidiary"
	ResourceUser       ResourceType = "user"
	ResourceReport     ResourceType = "report"
)

// Resource identifies a concrete record for instance level checks. The type
// is always carried explicitly; nothing is inferred from payload shape.
type Resource struct {
	Type      ResourceType
	CreatedBy string
	TenantID  string
}

// Matrix maps a canonical role to the actions it may perform per resource
// type, independent of ownership. It is built once at startup and treated as
// read only afterwards.
type Matrix map[auth.Role]map[ResourceType][]Action

// Allows reports static matrix membership for a (role, type, action) triple.
func (m Matrix) Allows(role auth.Role, resourceType ResourceType, action Action) bool {
	actions, ok := m[role][resourceType]
	if !ok {
		return false
	}
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

// DefaultMatrix builds the standard role grants.
//
// Admin roles hold every action on every type; tenancy is enforced by the
// instance layer, not here. Managers own the full sales pipeline but only
// read the catalog and org structure. Reps work their own pipeline records
// and cannot touch subsidiaries at all.
func DefaultMatrix() Matrix {
	allTypes := []ResourceType{
		ResourceLead, ResourceDeal, ResourceContact, ResourceProduct,
		ResourceQuote, ResourceTask, ResourceSubsidiary, ResourceUser,
		ResourceReport,
	}
	allActions := []Action{ActionView, ActionEdit, ActionDelete, ActionCreate}

	m := Matrix{}
	for _, role := range []auth.Role{auth.RoleSuperAdmin, auth.RoleAdmin} {
		grants := make(map[ResourceType][]Action, len(allTypes))
		for _, rt := range allTypes {
			grants[rt] = allActions
		}
		m[role] = grants
	}

	m[auth.RoleSalesManager] = map[ResourceType][]Action{
		ResourceLead:       allActions,
		ResourceDeal:       allActions,
		ResourceContact:    allActions,
		ResourceQuote:      allActions,
		ResourceTask:       allActions,
		ResourceProduct:    {ActionView},
		ResourceSubsidiary: {ActionView},
		ResourceUser:       {ActionView},
		ResourceReport:     {ActionView, ActionCreate},
	}

	m[auth.RoleSalesRep] = map[ResourceType][]Action{
		ResourceLead:    {ActionView, ActionEdit, ActionCreate},
		ResourceDeal:    {ActionView, ActionEdit, ActionCreate},
		ResourceContact: {ActionView, ActionEdit, ActionCreate},
		ResourceQuote:   {ActionView, ActionEdit, ActionCreate},
		ResourceTask:    {ActionView, ActionEdit, ActionDelete, ActionCreate},
		ResourceProduct: {ActionView},
		ResourceUser:    {ActionView},
		ResourceReport:  {ActionView},
	}

	return m
}

// FilterScope describes how far a list query may reach.
type FilterScope string

const (
	// ScopeUnrestricted applies no ownership constraint.
	ScopeUnrestricted FilterScope = "unrestricted"
	// ScopeOwner restricts a query to records owned by the subject.
	ScopeOwner FilterScope = "owner"
	// ScopeOwnerIn restricts a query to records owned by any of OwnerIDs.
	ScopeOwnerIn FilterScope = "owner_in"
)

// Filter is the ownership constraint a storage layer applies to a list
// query on the subject's behalf.
type Filter struct {
	Scope    FilterScope
	OwnerIDs []string
}

// Unrestricted reports whether the filter imposes no ownership constraint.
func (f Filter) Unrestricted() bool {
	return f.Scope == ScopeUnrestricted
}
