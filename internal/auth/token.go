package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/salesdesk/crm-management/internal"
)

// TokenIssuer signs and verifies both token kinds. Access tokens are
// stateless and live on signature plus expiry alone. Refresh tokens carry a
// random jti and are backed by a store record under that jti, so deleting
// the record revokes the token even while its signature still verifies.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	store         RefreshTokenStore
	logger        *slog.Logger

	// now is swappable so expiry behavior can be pinned in tests.
	now func() time.Time
}

// NewTokenIssuer creates a token issuer from the security configuration.
func NewTokenIssuer(cfg internal.SecurityConfig, store RefreshTokenStore, logger *slog.Logger) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(cfg.AccessTokenSecret),
		refreshSecret: []byte(cfg.RefreshTokenSecret),
		accessTTL:     cfg.AccessTokenDuration,
		refreshTTL:    cfg.RefreshTokenDuration,
		store:         store,
		logger:        logger,
		now:           time.Now,
	}
}

func (t *TokenIssuer) claimsFor(u *User) Claims {
	return Claims{
		UserID:   u.UserID,
		Email:    u.Email,
		Role:     string(u.Role),
		TenantID: u.TenantID,
	}
}

// IssueAccessToken signs a short-lived access token for the user. No store
// interaction happens here.
func (t *TokenIssuer) IssueAccessToken(u *User) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.accessTTL)

	claims := t.claimsFor(u)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		Subject:   u.UserID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	tokenString, err := token.SignedString(t.accessSecret)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// IssueRefreshToken signs a long-lived refresh token with a fresh random jti
// and persists the matching store record. A failed store write aborts
// issuance; the caller decides how to surface it.
func (t *TokenIssuer) IssueRefreshToken(ctx context.Context, u *User) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.refreshTTL)
	jti := uuid.New().String()

	claims := t.claimsFor(u)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        jti,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		Subject:   u.UserID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	tokenString, err := token.SignedString(t.refreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}

	record := &RefreshToken{
		JTI:       jti,
		UserID:    u.UserID,
		Token:     tokenString,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		LastUsed:  now,
	}
	if err := t.store.PutRefreshToken(ctx, record); err != nil {
		// A missing table is repaired by startup self-healing; the token
		// is still usable once the table exists, so only log it.
		if errors.Is(err, internal.ErrStoreTableMissing) {
			t.logger.Warn("refresh token table missing, token issued without persistence",
				"jti", jti,
				"error", err)
			return tokenString, expiresAt, nil
		}
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// IssuePair issues both tokens for the user and reports their absolute
// expiries so clients can schedule proactive refreshes.
func (t *TokenIssuer) IssuePair(ctx context.Context, u *User) (*TokenPair, error) {
	accessToken, accessExpiresAt, err := t.IssueAccessToken(u)
	if err != nil {
		return nil, err
	}

	refreshToken, refreshExpiresAt, err := t.IssueRefreshToken(ctx, u)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

func (t *TokenIssuer) parseWithSecret(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(t.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, internal.ErrInvalidToken
}

// VerifyAccessToken checks signature and expiry only.
func (t *TokenIssuer) VerifyAccessToken(tokenString string) (*Claims, error) {
	return t.parseWithSecret(tokenString, t.accessSecret)
}

// VerifyRefreshToken checks the signature, then requires a live store record
// under the embedded jti. A missing record means the token was revoked; an
// expired record is deleted on sight. On success the record's lastUsed
// timestamp is advanced.
func (t *TokenIssuer) VerifyRefreshToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := t.parseWithSecret(tokenString, t.refreshSecret)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, internal.ErrInvalidToken
	}

	record, err := t.store.GetRefreshToken(ctx, claims.ID)
	if err != nil {
		return nil, err
	}

	now := t.now()
	if record.Expired(now) {
		if err := t.store.DeleteRefreshToken(ctx, claims.ID); err != nil {
			t.logger.Warn("failed to delete expired refresh token",
				"jti", claims.ID,
				"error", err)
		}
		return nil, internal.ErrTokenExpired
	}

	if err := t.store.TouchRefreshToken(ctx, claims.ID, now); err != nil {
		t.logger.Warn("failed to update refresh token last used",
			"jti", claims.ID,
			"error", err)
	}

	return claims, nil
}

// DecodeClaims reads the claims without verifying the signature. Callers
// must not trust the result for authentication decisions.
func (t *TokenIssuer) DecodeClaims(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, internal.ErrInvalidToken
	}
	return claims, nil
}

// IsNearExpiry reports whether the token's expiry falls within threshold
// from now. It only decodes the payload. Tokens that cannot be decoded or
// carry no expiry count as near expiry, as do tokens already past it.
func (t *TokenIssuer) IsNearExpiry(tokenString string, threshold time.Duration) bool {
	claims, err := t.DecodeClaims(tokenString)
	if err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return !t.now().Add(threshold).Before(claims.ExpiresAt.Time)
}
