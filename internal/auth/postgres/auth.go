package postgres

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	retry "github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/salesdesk/crm-management/internal"
	"github.com/salesdesk/crm-management/internal/auth"
	tokenmodel "github.com/salesdesk/crm-management/internal/core/datamodel/token"
	usermodel "github.com/salesdesk/crm-management/internal/core/datamodel/user"
)

const (
	// storeRetries is the number of retries after the first attempt.
	storeRetries    = 2
	storeRetryDelay = 100 * time.Millisecond
)

// Repository implements auth.Repository and the user directory reads using GORM.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewRepository creates a repository on top of an open GORM handle.
func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// run executes fn with bounded retries. Errors retrying cannot fix return
// immediately; anything still failing after the budget becomes
// internal.ErrStoreUnavailable.
func (r *Repository) run(ctx context.Context, op string, fn func(db *gorm.DB) error) error {
	backoff := retry.WithMaxRetries(storeRetries, retry.NewExponential(storeRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(r.db.WithContext(ctx))
		if err == nil || isTerminal(err) {
			return err
		}
		r.logger.Warn("store operation failed, retrying", "op", op, "error", err)
		return retry.RetryableError(err)
	})
	switch {
	case err == nil:
		return nil
	case isMissingTable(err):
		return internal.ErrStoreTableMissing
	case isTerminal(err):
		return err
	default:
		r.logger.Error("store unavailable", "op", op, "error", err)
		return internal.ErrStoreUnavailable
	}
}

// isTerminal reports whether err describes an outcome rather than a failure
// of the attempt itself.
func isTerminal(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || isDuplicate(err) || isMissingTable(err)
}

// isMissingTable matches a missing relation. Postgres reports SQLSTATE 42P01,
// the sqlite driver used in tests reports a plain "no such table" message.
func isMissingTable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetUserByEmail looks up a user by email. Soft deleted users are returned
// too; callers decide how to treat them.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	var m usermodel.User
	err := r.run(ctx, "get user by email", func(db *gorm.DB) error {
		return db.Where("email = ?", email).First(&m).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrUserNotFound
		}
		return nil, err
	}
	return userFromModel(&m), nil
}

// GetUserByID looks up a user by id, including soft deleted ones.
func (r *Repository) GetUserByID(ctx context.Context, userID string) (*auth.User, error) {
	var m usermodel.User
	err := r.run(ctx, "get user by id", func(db *gorm.DB) error {
		return db.Where("id = ?", userID).First(&m).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrUserNotFound
		}
		return nil, err
	}
	return userFromModel(&m), nil
}

// CreateUser inserts a new user. The unique index on email makes the insert
// conditional: a second insert with the same email fails with
// internal.ErrEmailTaken.
func (r *Repository) CreateUser(ctx context.Context, u *auth.User) error {
	m := userToModel(u)
	err := r.run(ctx, "create user", func(db *gorm.DB) error {
		return db.Create(m).Error
	})
	if err != nil {
		if isDuplicate(err) {
			return internal.ErrEmailTaken
		}
		return err
	}
	return nil
}

// UpdateUser overwrites the stored user row.
func (r *Repository) UpdateUser(ctx context.Context, u *auth.User) error {
	u.UpdatedAt = time.Now()
	m := userToModel(u)
	return r.run(ctx, "update user", func(db *gorm.DB) error {
		return db.Save(m).Error
	})
}

// ListUsersByManager returns the active users of a tenant reporting directly
// to managerID.
func (r *Repository) ListUsersByManager(ctx context.Context, tenantID, managerID string) ([]*auth.User, error) {
	var models []*usermodel.User
	err := r.run(ctx, "list users by manager", func(db *gorm.DB) error {
		return db.Where("tenant_id = ? AND reporting_to = ? AND is_deleted = ?", tenantID, managerID, false).
			Order("first_name ASC").
			Find(&models).Error
	})
	if err != nil {
		return nil, err
	}
	return usersFromModels(models), nil
}

// ListUsersByTenant returns all active users of a tenant.
func (r *Repository) ListUsersByTenant(ctx context.Context, tenantID string) ([]*auth.User, error) {
	var models []*usermodel.User
	err := r.run(ctx, "list users by tenant", func(db *gorm.DB) error {
		return db.Where("tenant_id = ? AND is_deleted = ?", tenantID, false).
			Order("first_name ASC").
			Find(&models).Error
	})
	if err != nil {
		return nil, err
	}
	return usersFromModels(models), nil
}

// GetRefreshToken fetches the server side record for a token id. A missing
// record means the token was revoked.
func (r *Repository) GetRefreshToken(ctx context.Context, jti string) (*auth.RefreshToken, error) {
	var m tokenmodel.RefreshToken
	err := r.run(ctx, "get refresh token", func(db *gorm.DB) error {
		return db.Where("jti = ?", jti).First(&m).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrTokenRevoked
		}
		return nil, err
	}
	return tokenFromModel(&m), nil
}

// PutRefreshToken stores the record backing a newly issued refresh token.
func (r *Repository) PutRefreshToken(ctx context.Context, rt *auth.RefreshToken) error {
	m := tokenToModel(rt)
	return r.run(ctx, "put refresh token", func(db *gorm.DB) error {
		return db.Create(m).Error
	})
}

// DeleteRefreshToken removes a token record. Deleting an absent jti is not
// an error.
func (r *Repository) DeleteRefreshToken(ctx context.Context, jti string) error {
	return r.run(ctx, "delete refresh token", func(db *gorm.DB) error {
		return db.Where("jti = ?", jti).Delete(&tokenmodel.RefreshToken{}).Error
	})
}

// TouchRefreshToken records when a refresh token was last presented.
func (r *Repository) TouchRefreshToken(ctx context.Context, jti string, usedAt time.Time) error {
	return r.run(ctx, "touch refresh token", func(db *gorm.DB) error {
		return db.Model(&tokenmodel.RefreshToken{}).
			Where("jti = ?", jti).
			Update("last_used", usedAt).Error
	})
}

// ListRefreshTokensByUser returns every stored token record for a user,
// newest first.
func (r *Repository) ListRefreshTokensByUser(ctx context.Context, userID string) ([]*auth.RefreshToken, error) {
	var models []*tokenmodel.RefreshToken
	err := r.run(ctx, "list refresh tokens by user", func(db *gorm.DB) error {
		return db.Where("user_id = ?", userID).
			Order("created_at DESC").
			Find(&models).Error
	})
	if err != nil {
		return nil, err
	}
	out := make([]*auth.RefreshToken, 0, len(models))
	for _, m := range models {
		out = append(out, tokenFromModel(m))
	}
	return out, nil
}

// ListExpiredRefreshTokens returns token records whose expiry lies before now.
func (r *Repository) ListExpiredRefreshTokens(ctx context.Context, now time.Time) ([]*auth.RefreshToken, error) {
	var models []*tokenmodel.RefreshToken
	err := r.run(ctx, "list expired refresh tokens", func(db *gorm.DB) error {
		return db.Where("expires_at < ?", now).
			Order("expires_at ASC").
			Find(&models).Error
	})
	if err != nil {
		return nil, err
	}
	out := make([]*auth.RefreshToken, 0, len(models))
	for _, m := range models {
		out = append(out, tokenFromModel(m))
	}
	return out, nil
}

func userToModel(u *auth.User) *usermodel.User {
	return &usermodel.User{
		ID:           u.UserID,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		PhoneNumber:  u.PhoneNumber,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		TenantID:     u.TenantID,
		ReportingTo:  u.ReportingTo,
		IsDeleted:    u.IsDeleted,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m *usermodel.User) *auth.User {
	return &auth.User{
		UserID:       m.ID,
		Email:        m.Email,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		PhoneNumber:  m.PhoneNumber,
		PasswordHash: m.PasswordHash,
		Role:         auth.MustNormalizeRole(m.Role),
		TenantID:     m.TenantID,
		ReportingTo:  m.ReportingTo,
		IsDeleted:    m.IsDeleted,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func usersFromModels(models []*usermodel.User) []*auth.User {
	out := make([]*auth.User, 0, len(models))
	for _, m := range models {
		out = append(out, userFromModel(m))
	}
	return out
}

func tokenToModel(rt *auth.RefreshToken) *tokenmodel.RefreshToken {
	return &tokenmodel.RefreshToken{
		JTI:       rt.JTI,
		UserID:    rt.UserID,
		Token:     rt.Token,
		ExpiresAt: rt.ExpiresAt,
		CreatedAt: rt.CreatedAt,
		LastUsed:  rt.LastUsed,
	}
}

func tokenFromModel(m *tokenmodel.RefreshToken) *auth.RefreshToken {
	return &auth.RefreshToken{
		JTI:       m.JTI,
		UserID:    m.UserID,
		Token:     m.Token,
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
		LastUsed:  m.LastUsed,
	}
}
