package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// User is the internal identity record. Email is the primary lookup key,
// UserID the secondary one; both are unique. Soft-deleted users keep their
// row but are invisible to every authentication and authorization read.
type User struct {
	UserID       string     `json:"userId"`
	Email        string     `json:"email"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	PhoneNumber  string     `json:"phoneNumber,omitempty"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	TenantID     string     `json:"tenantId"`
	ReportingTo  *string    `json:"reportingTo,omitempty"`
	IsDeleted    bool       `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// RefreshToken is the revocable credential record. A jti absent from the
// store is revoked no matter how valid the signature still is.
type RefreshToken struct {
	JTI       string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	LastUsed  time.Time
}

func (rt *RefreshToken) Expired(now time.Time) bool {
	return now.After(rt.ExpiresAt)
}

// Claims carried by both token kinds. Refresh tokens additionally set
// RegisteredClaims.ID to the jti; access tokens leave it empty.
type Claims struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	TenantID string `json:"tenantId"`
	jwt.RegisteredClaims
}

// TokenPair is what a successful login, registration or rotation hands back.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessTokenExpiry"`
	RefreshExpiresAt time.Time `json:"refreshTokenExpiry"`
}

// AuthResult pairs freshly issued tokens with the user they belong to.
type AuthResult struct {
	User   *User
	Tokens *TokenPair
}

// Identity is the per-request authenticated caller, re-read from the store
// by the gate so role and tenant changes apply on the next request.
type Identity struct {
	UserID   string
	Email    string
	Role     Role
	TenantID string
}

// Repository is the credential store contract. Point lookups return the
// record even when soft-deleted so callers can distinguish a disabled
// account from a missing one; list operations return active users only.
// Absent users surface as internal.ErrUserNotFound, an absent jti as
// internal.ErrTokenRevoked, and connectivity failures as
// internal.ErrStoreUnavailable.
type Repository interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, userID string) (*User, error)
	// CreateUser fails with internal.ErrEmailTaken when the email exists.
	CreateUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error

	GetRefreshToken(ctx context.Context, jti string) (*RefreshToken, error)
	PutRefreshToken(ctx context.Context, rt *RefreshToken) error
	DeleteRefreshToken(ctx context.Context, jti string) error
	TouchRefreshToken(ctx context.Context, jti string, usedAt time.Time) error
	ListRefreshTokensByUser(ctx context.Context, userID string) ([]*RefreshToken, error)
	ListExpiredRefreshTokens(ctx context.Context, now time.Time) ([]*RefreshToken, error)
}

// RefreshTokenStore is the slice of Repository the token issuer needs.
type RefreshTokenStore interface {
	GetRefreshToken(ctx context.Context, jti string) (*RefreshToken, error)
	PutRefreshToken(ctx context.Context, rt *RefreshToken) error
	DeleteRefreshToken(ctx context.Context, jti string) error
	TouchRefreshToken(ctx context.Context, jti string, usedAt time.Time) error
}

// TokenIssuerAPI issues and verifies token pairs.
type TokenIssuerAPI interface {
	IssueAccessToken(u *User) (string, time.Time, error)
	IssueRefreshToken(ctx context.Context, u *User) (string, time.Time, error)
	IssuePair(ctx context.Context, u *User) (*TokenPair, error)
	VerifyAccessToken(tokenString string) (*Claims, error)
	VerifyRefreshToken(ctx context.Context, tokenString string) (*Claims, error)
	DecodeClaims(tokenString string) (*Claims, error)
	IsNearExpiry(tokenString string, threshold time.Duration) bool
}

// ServiceAPI is what the HTTP layer talks to.
type ServiceAPI interface {
	Register(ctx context.Context, dto RegisterDTO) (*AuthResult, error)
	Authenticate(ctx context.Context, dto LoginDTO) (*AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*AuthResult, error)
	// AutoRefresh rotates only when the access token is near expiry; the
	// bool reports whether rotation happened.
	AutoRefresh(ctx context.Context, accessToken, refreshToken string) (bool, *AuthResult, error)
	Logout(ctx context.Context, refreshToken, userID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	ValidateAccessToken(tokenString string) (*Claims, error)
	InspectToken(tokenString string) TokenStatus
	UpdateProfile(ctx context.Context, userID string, dto UpdateProfileDTO) (*User, error)
	GetUserByID(ctx context.Context, userID string) (*User, error)
}

// TokenStatus is the decode-only report behind /auth/validate-token.
type TokenStatus struct {
	Valid      bool    `json:"valid"`
	Expired    bool    `json:"expired"`
	NearExpiry bool    `json:"nearExpiry"`
	Payload    *Claims `json:"payload,omitempty"`
}

type ctxKey string

const contextIdentityKey ctxKey = "identity"

// IdentityFromContext returns the identity the gate attached, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	ident, ok := ctx.Value(contextIdentityKey).(*Identity)
	return ident, ok
}

func ContextWithIdentity(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, contextIdentityKey, ident)
}

func VerifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Identity derives the request identity from a stored user record.
func (u *User) Identity() *Identity {
	return &Identity{
		UserID:   u.UserID,
		Email:    u.Email,
		Role:     u.Role,
		TenantID: u.TenantID,
	}
}
