package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/salesdesk/crm-management/internal"
	"github.com/salesdesk/crm-management/internal/core/events"
)

// Service implements credential lifecycle: registration, login, rotation,
// revocation and profile maintenance.
type Service struct {
	repo          Repository
	issuer        TokenIssuerAPI
	eventBus      *events.EventBus
	logger        *slog.Logger
	bcryptCost    int
	defaultTenant string
	nearExpiry    time.Duration

	now func() time.Time
}

// NewService creates the auth service from its collaborators.
func NewService(repo Repository, issuer TokenIssuerAPI, eventBus *events.EventBus, logger *slog.Logger, cfg internal.SecurityConfig) *Service {
	return &Service{
		repo:          repo,
		issuer:        issuer,
		eventBus:      eventBus,
		logger:        logger,
		bcryptCost:    cfg.BCryptCost,
		defaultTenant: cfg.DefaultTenantID,
		nearExpiry:    cfg.NearExpiryThreshold,
		now:           time.Now,
	}
}

// Register creates a user and issues their first token pair.
func (s *Service) Register(ctx context.Context, dto RegisterDTO) (*AuthResult, error) {
	if err := dto.Validate(); err != nil {
		s.logger.Error("registration validation failed", "error", err)
		return nil, err
	}

	role, _ := NormalizeRole(dto.Role)
	tenantID := dto.TenantID
	if tenantID == "" {
		tenantID = s.defaultTenant
	}

	if err := s.validateReportingLine(ctx, role, tenantID, dto.ReportingTo, ""); err != nil {
		return nil, err
	}

	passwordHash, err := HashPassword(dto.Password, s.bcryptCost)
	if err != nil {
		return nil, internal.NewInternalError("failed to hash password", err)
	}

	now := s.now()
	u := &User{
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
		s.logger.Error("failed to create user", "email", u.Email, "error", err)
		return nil, err
	}

	tokens, err := s.issuer.IssuePair(ctx, u)
	if err != nil {
		s.logger.Error("failed to issue tokens after registration", "user_id", u.UserID, "error", err)
		return nil, err
	}

	s.logger.Info("user registered", "user_id", u.UserID, "tenant_id", u.TenantID, "role", u.Role)
	return &AuthResult{User: u, Tokens: tokens}, nil
}

// Authenticate validates credentials, revokes the user's previous refresh
// tokens and issues a fresh pair.
func (s *Service) Authenticate(ctx context.Context, dto LoginDTO) (*AuthResult, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(dto.Email))
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, internal.ErrUserNotFound) {
			return nil, internal.ErrInvalidCredentials
		}
		s.logger.Error("user lookup failed during login", "error", err)
		return nil, err
	}

	if err := VerifyPassword(u.PasswordHash, dto.Password); err != nil {
		return nil, internal.ErrInvalidCredentials
	}

	// Checked after the password so an unauthenticated caller cannot
	// probe which accounts are disabled.
	if u.IsDeleted {
		return nil, internal.ErrAccountDisabled
	}

	// Login supersedes all prior sessions. Failures here are logged only;
	// issuance below still surfaces store unavailability.
	if err := s.RevokeAllForUser(ctx, u.UserID); err != nil {
		s.logger.Warn("failed to revoke prior refresh tokens on login", "user_id", u.UserID, "error", err)
	}

	tokens, err := s.issuer.IssuePair(ctx, u)
	if err != nil {
		s.logger.Error("failed to issue tokens on login", "user_id", u.UserID, "error", err)
		return nil, err
	}

	s.logger.Info("user authenticated", "user_id", u.UserID, "tenant_id", u.TenantID)
	return &AuthResult{User: u, Tokens: tokens}, nil
}

// Refresh rotates a verified refresh token into a new pair. The user record
// is re-read so role or tenant changes and soft deletes take effect now, and
// the old jti is deleted so each refresh token rotates at most once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claims, err := s.issuer.VerifyRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	u, err := s.repo.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, internal.ErrUserNotFound) {
			return nil, internal.ErrInvalidToken
		}
		return nil, err
	}
	if u.IsDeleted {
		return nil, internal.ErrAccountDisabled
	}

	tokens, err := s.issuer.IssuePair(ctx, u)
	if err != nil {
		s.logger.Error("failed to issue tokens on refresh", "user_id", u.UserID, "error", err)
		return nil, err
	}

	if err := s.repo.DeleteRefreshToken(ctx, claims.ID); err != nil {
		s.logger.Warn("failed to delete rotated refresh token", "jti", claims.ID, "error", err)
	}

	return &AuthResult{User: u, Tokens: tokens}, nil
}

// AutoRefresh rotates the pair only once the access token is near expiry.
func (s *Service) AutoRefresh(ctx context.Context, accessToken, refreshToken string) (bool, *AuthResult, error) {
	if !s.issuer.IsNearExpiry(accessToken, s.nearExpiry) {
		return false, nil, nil
	}

	result, err := s.Refresh(ctx, refreshToken)
	if err != nil {
		return true, nil, err
	}
	return true, result, nil
}

// Logout revokes the presented refresh token. With a userID it revokes every
// token that user holds. Tokens that fail verification have nothing live to
// revoke, so logout still succeeds for them.
func (s *Service) Logout(ctx context.Context, refreshToken, userID string) error {
	if userID != "" {
		if err := s.RevokeAllForUser(ctx, userID); err != nil {
			return err
		}
	}

	if refreshToken == "" {
		return nil
	}

	claims, err := s.issuer.VerifyRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, internal.ErrStoreUnavailable) {
			return err
		}
		s.logger.Info("logout presented a token with nothing to revoke", "error", err)
		return nil
	}

	if err := s.repo.DeleteRefreshToken(ctx, claims.ID); err != nil {
		s.logger.Error("failed to delete refresh token on logout", "jti", claims.ID, "error", err)
		return err
	}

	s.logger.Info("refresh token revoked", "user_id", claims.UserID, "jti", claims.ID)
	return nil
}

// RevokeAllForUser deletes every refresh token the user holds.
func (s *Service) RevokeAllForUser(ctx context.Context, userID string) error {
	tokens, err := s.repo.ListRefreshTokensByUser(ctx, userID)
	if err != nil {
		return err
	}

	for _, rt := range tokens {
		if err := s.repo.DeleteRefreshToken(ctx, rt.JTI); err != nil {
			s.logger.Warn("failed to delete refresh token during revocation",
				"user_id", userID,
				"jti", rt.JTI,
				"error", err)
		}
	}
	return nil
}

// ValidateAccessToken verifies signature and expiry of an access token.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.issuer.VerifyAccessToken(tokenString)
}

// InspectToken reports a decode-only view of an access token: whether it
// currently verifies, whether its expiry has passed, and whether it is near
// expiry. The payload is the decoded, unverified claim set.
func (s *Service) InspectToken(tokenString string) TokenStatus {
	status := TokenStatus{}

	claims, err := s.issuer.DecodeClaims(tokenString)
	if err != nil {
		return status
	}
	status.Payload = claims

	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(s.now()) {
		status.Expired = true
	}
	status.NearExpiry = s.issuer.IsNearExpiry(tokenString, s.nearExpiry)

	if _, err := s.issuer.VerifyAccessToken(tokenString); err == nil {
		status.Valid = true
	}

	return status
}

// UpdateProfile applies a partial profile update and publishes a change
// event so caches depending on the user record refresh.
func (s *Service) UpdateProfile(ctx context.Context, userID string, dto UpdateProfileDTO) (*User, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.IsDeleted {
		return nil, internal.ErrAccountDisabled
	}

	if dto.FirstName != nil {
		u.FirstName = *dto.FirstName
	}
	if dto.LastName != nil {
		u.LastName = *dto.LastName
	}
	if dto.PhoneNumber != nil {
		u.PhoneNumber = *dto.PhoneNumber
	}
	if dto.Password != nil {
		hash, err := HashPassword(*dto.Password, s.bcryptCost)
		if err != nil {
			return nil, internal.NewInternalError("failed to hash password", err)
		}
		u.PasswordHash = hash
	}
	u.UpdatedAt = s.now()

	if err := s.repo.UpdateUser(ctx, u); err != nil {
		s.logger.Error("failed to update profile", "user_id", userID, "error", err)
		return nil, err
	}

	if s.eventBus != nil {
		s.eventBus.Publish(ctx, events.NewUserUpdatedEvent(u.UserID, u.TenantID, string(u.Role)))
	}

	s.logger.Info("profile updated", "user_id", userID)
	return u, nil
}

// GetUserByID reads the user record, soft-deleted or not; callers decide
// how a tombstone is treated.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

func (s *Service) validateReportingLine(ctx context.Context, role Role, tenantID string, reportingTo *string, selfID string) error {
	return ValidateReportingLine(ctx, s.repo, role, tenantID, reportingTo, selfID)
}

// UserGetter is the single-method lookup ValidateReportingLine needs.
type UserGetter interface {
	GetUserByID(ctx context.Context, userID string) (*User, error)
}

// ValidateReportingLine enforces that a reporting assignment points at an
// active manager in the same tenant exactly one role level higher. selfID is
// the user being assigned, to reject self-reference on updates.
func ValidateReportingLine(ctx context.Context, users UserGetter, role Role, tenantID string, reportingTo *string, selfID string) error {
	if reportingTo == nil || *reportingTo == "" {
		return nil
	}

	if selfID != "" && *reportingTo == selfID {
		return internal.NewValidationFieldError("reportingTo", "user cannot report to themselves", internal.ErrCodeInvalidReporting)
	}

	expected, ok := role.OneLevelAbove()
	if !ok {
		return internal.NewValidationFieldError("reportingTo", "this role cannot report to anyone", internal.ErrCodeInvalidReporting)
	}

	manager, err := users.GetUserByID(ctx, *reportingTo)
	if err != nil {
		if errors.Is(err, internal.ErrUserNotFound) {
			return internal.NewValidationFieldError("reportingTo", "reporting manager not found", internal.ErrCodeInvalidReporting)
		}
		return err
	}
	if manager.IsDeleted {
		return internal.NewValidationFieldError("reportingTo", "reporting manager not found", internal.ErrCodeInvalidReporting)
	}
	if manager.TenantID != tenantID {
		return internal.NewValidationFieldError("reportingTo", "reporting manager must belong to the same tenant", internal.ErrCodeInvalidReporting)
	}
	if manager.Role != expected {
		return internal.NewValidationFieldError("reportingTo", "reporting manager must be exactly one role level higher", internal.ErrCodeInvalidReporting)
	}
	return nil
}
