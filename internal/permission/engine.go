package permission

import (
	"context"
	"log/slog"

	"github.com/salesdesk/crm-management/internal/auth"
	"github.com/salesdesk/crm-management/internal/obs"
)

// ReportsResolver yields the active direct reports of a manager.
type ReportsResolver interface {
	DirectReports(ctx context.Context, tenantID, managerID string) ([]*auth.User, error)
}

// Engine evaluates (subject, action, resource) triples against the injected
// matrix, then layers ownership and hierarchy rules on top for instance
// checks.
type Engine struct {
	matrix   Matrix
	resolver ReportsResolver
	logger   *slog.Logger
}

// NewEngine builds an engine around an immutable matrix and a reports
// resolver.
func NewEngine(matrix Matrix, resolver ReportsResolver, logger *slog.Logger) *Engine {
	return &Engine{
		matrix:   matrix,
		resolver: resolver,
		logger:   logger,
	}
}

// Can answers the static question: may this role perform the action on the
// resource type at all, ignoring ownership. Unknown roles are denied.
func (e *Engine) Can(role auth.Role, resourceType ResourceType, action Action) bool {
	canonical, ok := auth.NormalizeRole(string(role))
	if !ok {
		return false
	}
	return e.matrix.Allows(canonical, resourceType, action)
}

// CanAccess decides an instance level check. The static matrix check runs
// first; when it passes, ownership rules apply in fixed role order:
// SUPER_ADMIN always, ADMIN within its tenant, SALES_MANAGER for its own
// records and those of its direct reports, SALES_REP for its own records
// only. Resolver failures surface as errors so callers fail closed.
func (e *Engine) CanAccess(ctx context.Context, subject *auth.Identity, action Action, resource Resource) (bool, error) {
	canonical, ok := auth.NormalizeRole(string(subject.Role))
	if !ok {
		e.deny(subject, action, resource, "unknown role")
		return false, nil
	}
	if !e.matrix.Allows(canonical, resource.Type, action) {
		e.deny(subject, action, resource, "matrix")
		return false, nil
	}

	switch canonical {
	case auth.RoleSuperAdmin:
		return true, nil
	case auth.RoleAdmin:
		if resource.TenantID == subject.TenantID {
			return true, nil
		}
		e.deny(subject, action, resource, "tenant")
		return false, nil
	case auth.RoleSalesManager:
		if resource.CreatedBy == subject.UserID {
			return true, nil
		}
		reports, err := e.resolver.DirectReports(ctx, subject.TenantID, subject.UserID)
		if err != nil {
			return false, err
		}
		for _, report := range reports {
			if report.UserID == resource.CreatedBy {
				return true, nil
			}
		}
		e.deny(subject, action, resource, "ownership")
		return false, nil
	default:
		if resource.CreatedBy == subject.UserID {
			return true, nil
		}
		e.deny(subject, action, resource, "ownership")
		return false, nil
	}
}

// AccessFilter computes the ownership constraint for list queries: none for
// admin roles, owner-only for reps and managers without reports, owner-in
// for managers with reports.
func (e *Engine) AccessFilter(ctx context.Context, subject *auth.Identity, resourceType ResourceType) (Filter, error) {
	canonical, ok := auth.NormalizeRole(string(subject.Role))
	if !ok {
		return Filter{Scope: ScopeOwner, OwnerIDs: []string{subject.UserID}}, nil
	}

	switch canonical {
	case auth.RoleSuperAdmin, auth.RoleAdmin:
		return Filter{Scope: ScopeUnrestricted}, nil
	case auth.RoleSalesManager:
		reports, err := e.resolver.DirectReports(ctx, subject.TenantID, subject.UserID)
		if err != nil {
			return Filter{}, err
		}
		if len(reports) == 0 {
			return Filter{Scope: ScopeOwner, OwnerIDs: []string{subject.UserID}}, nil
		}
		owners := make([]string, 0, len(reports)+1)
		owners = append(owners, subject.UserID)
		for _, report := range reports {
			owners = append(owners, report.UserID)
		}
		return Filter{Scope: ScopeOwnerIn, OwnerIDs: owners}, nil
	default:
		return Filter{Scope: ScopeOwner, OwnerIDs: []string{subject.UserID}}, nil
	}
}

func (e *Engine) deny(subject *auth.Identity, action Action, resource Resource, rule string) {
	obs.RecordPermissionDenial(string(resource.Type), string(action))
	e.logger.Warn("permission denied",
		"user_id", subject.UserID,
		"role", string(subject.Role),
		"tenant_id", subject.TenantID,
		"action", string(action),
		"resource_type", string(resource.Type),
		"rule", rule,
	)
}
