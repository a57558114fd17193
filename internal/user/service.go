package user

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/salesdesk/crm-management/internal"
	"github.com/salesdesk/crm-management/internal/auth"
	"github.com/salesdesk/crm-management/internal/core/events"
	"github.com/salesdesk/crm-management/internal/permission"
)

// Repository is the slice of the credential store the directory needs.
type Repository interface {
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
	CreateUser(ctx context.Context, u *auth.User) error
	UpdateUser(ctx context.Context, u *auth.User) error
	ListUsersByTenant(ctx context.Context, tenantID string) ([]*auth.User, error)
}

// TokenRevoker revokes every refresh token a user holds.
type TokenRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string) error
}

// Service implements tenant user administration: directory reads plus the
// admin operations that create users, move them between roles and tombstone
// them.
type Service struct {
	repo     Repository
	reports  permission.ReportsResolver
	perms    *permission.Engine
	revoker  TokenRevoker
	eventBus *events.EventBus
	logger   *slog.Logger

	bcryptCost int
	now        func() time.Time
}

// NewService wires the directory service from its collaborators.
func NewService(repo Repository, reports permission.ReportsResolver, perms *permission.Engine, revoker TokenRevoker, eventBus *events.EventBus, logger *slog.Logger, cfg internal.SecurityConfig) *Service {
	return &Service{
		repo:       repo,
		reports:    reports,
		perms:      perms,
		revoker:    revoker,
		eventBus:   eventBus,
		logger:     logger,
		bcryptCost: cfg.BCryptCost,
		now:        time.Now,
	}
}

// GetCurrentUser returns the caller's own record.
func (s *Service) GetCurrentUser(ctx context.Context, ident *auth.Identity) (*auth.User, error) {
	u, err := s.repo.GetUserByID(ctx, ident.UserID)
	if err != nil {
		return nil, err
	}
	if u.IsDeleted {
		return nil, internal.ErrUserNotFound
	}
	return u, nil
}

// Team returns the caller's active direct reports.
func (s *Service) Team(ctx context.Context, ident *auth.Identity) ([]*auth.User, error) {
	return s.reports.DirectReports(ctx, ident.TenantID, ident.UserID)
}

// List returns the tenant's active users, narrowed by the caller's access
// filter.
func (s *Service) List(ctx context.Context, ident *auth.Identity) ([]*auth.User, error) {
	filter, err := s.perms.AccessFilter(ctx, ident, permission.ResourceUser)
	if err != nil {
		return nil, err
	}

	users, err := s.repo.ListUsersByTenant(ctx, ident.TenantID)
	if err != nil {
		return nil, err
	}
	if filter.Unrestricted() {
		return users, nil
	}

	allowed := make(map[string]bool, len(filter.OwnerIDs))
	for _, id := range filter.OwnerIDs {
		allowed[id] = true
	}
	scoped := make([]*auth.User, 0, len(users))
	for _, u := range users {
		if allowed[u.UserID] {
			scoped = append(scoped, u)
		}
	}
	return scoped, nil
}

// Create provisions a user on behalf of an administrator. The new role may
// not outrank the actor, and the target tenant must be the actor's own
// unless the actor is a super admin.
func (s *Service) Create(ctx context.Context, actor *auth.Identity, dto auth.RegisterDTO) (*auth.User, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	if !s.perms.Can(actor.Role, permission.ResourceUser, permission.ActionCreate) {
		return nil, internal.ErrPermissionDenied
	}

	role, _ := auth.NormalizeRole(dto.Role)
	actorRole, ok := auth.NormalizeRole(string(actor.Role))
	if !ok || !actorRole.AtLeast(role) {
		return nil, internal.ErrPermissionDenied
	}

	tenantID := dto.TenantID
	if tenantID == "" {
		tenantID = actor.TenantID
	}
	if tenantID != actor.TenantID && actorRole != auth.RoleSuperAdmin {
		return nil, internal.ErrPermissionDenied
	}

	if err := auth.ValidateReportingLine(ctx, s.repo, role, tenantID, dto.ReportingTo, ""); err != nil {
		return nil, err
	}

	passwordHash, err := auth.HashPassword(dto.Password, s.bcryptCost)
	if err != nil {
		return nil, internal.NewInternalError("failed to hash password", err)
	}

	now := s.now()
	u := &auth.User{
		UserID:       uuid.New().String(),
		Email:        dto.NormalizedEmail(),
		FirstName:    dto.FirstName,
		LastName:     dto.LastName,
		PhoneNumber:  dto.PhoneNumber,
		PasswordHash: passwordHash,
		Role:         role,
		TenantID:     tenantID,
		ReportingTo:  dto.ReportingTo,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		s.logger.Error("admin user creation failed", "email", u.Email, "error", err)
		return nil, err
	}

	s.logger.Info("user created", "user_id", u.UserID, "tenant_id", u.TenantID, "role", u.Role, "created_by", actor.UserID)
	return u, nil
}

// ChangeRole moves a user to a new role. The actor must hold at least both
// the target's current role and the new one, and the target's reporting
// line must stay valid under the new role.
func (s *Service) ChangeRole(ctx context.Context, actor *auth.Identity, userID, rawRole string) (*auth.User, error) {
	newRole, ok := auth.NormalizeRole(rawRole)
	if !ok {
		return nil, auth.ValidationError{Msg: "role is not recognized"}
	}

	target, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if target.IsDeleted {
		return nil, internal.ErrUserNotFound
	}

	allowed, err := s.perms.CanAccess(ctx, actor, permission.ActionEdit, permission.Resource{
		Type:      permission.ResourceUser,
		CreatedBy: target.UserID,
		TenantID:  target.TenantID,
	})
	if err != nil {
		return nil, err
	}
	actorRole, ok := auth.NormalizeRole(string(actor.Role))
	if !allowed || !ok || !actorRole.AtLeast(target.Role) || !actorRole.AtLeast(newRole) {
		return nil, internal.ErrPermissionDenied
	}

	if target.Role == newRole {
		return target, nil
	}

	if err := auth.ValidateReportingLine(ctx, s.repo, newRole, target.TenantID, target.ReportingTo, target.UserID); err != nil {
		return nil, err
	}

	target.Role = newRole
	target.UpdatedAt = s.now()
	if err := s.repo.UpdateUser(ctx, target); err != nil {
		s.logger.Error("role change failed", "user_id", target.UserID, "error", err)
		return nil, err
	}

	s.publish(ctx, events.NewUserUpdatedEvent(target.UserID, target.TenantID, string(target.Role)))
	s.logger.Info("role changed", "user_id", target.UserID, "role", target.Role, "changed_by", actor.UserID)
	return target, nil
}

// Delete tombstones a user and revokes their refresh tokens. Deleting an
// already deleted user is a no-op.
func (s *Service) Delete(ctx context.Context, actor *auth.Identity, userID string) error {
	target, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	allowed, err := s.perms.CanAccess(ctx, actor, permission.ActionDelete, permission.Resource{
		Type:      permission.ResourceUser,
		CreatedBy: target.UserID,
		TenantID:  target.TenantID,
	})
	if err != nil {
		return err
	}
	actorRole, ok := auth.NormalizeRole(string(actor.Role))
	if !allowed || !ok || !actorRole.AtLeast(target.Role) {
		return internal.ErrPermissionDenied
	}

	if target.IsDeleted {
		return nil
	}

	target.IsDeleted = true
	target.UpdatedAt = s.now()
	if err := s.repo.UpdateUser(ctx, target); err != nil {
		s.logger.Error("soft delete failed", "user_id", target.UserID, "error", err)
		return err
	}

	// The tombstone locks the account out on the next request; token
	// revocation here is cleanup, not the enforcement point.
	if err := s.revoker.RevokeAllForUser(ctx, target.UserID); err != nil {
		s.logger.Warn("failed to revoke tokens for deleted user", "user_id", target.UserID, "error", err)
	}

	s.publish(ctx, events.NewUserDeletedEvent(target.UserID, target.TenantID))
	s.logger.Info("user deleted", "user_id", target.UserID, "deleted_by", actor.UserID)
	return nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishSync(ctx, event); err != nil {
		s.logger.Warn("event publication failed", "event_type", event.EventType(), "error", err)
	}
}
