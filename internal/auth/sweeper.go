package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/salesdesk/crm-management/internal/obs"
)

// Sweeper removes expired refresh-token records. It is purely best effort:
// verification enforces expiry on its own, so a failed or skipped sweep
// never weakens revocation. Store errors are logged and the pass moves on.
type Sweeper struct {
	repo   Repository
	logger *slog.Logger

	now func() time.Time
}

func NewSweeper(repo Repository, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Sweep deletes every refresh token whose expiry has passed and reports how
// many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()

	expired, err := s.repo.ListExpiredRefreshTokens(ctx, now)
	if err != nil {
		s.logger.Warn("sweep could not list expired refresh tokens", "error", err)
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	removed := 0
	for _, rt := range expired {
		if err := s.repo.DeleteRefreshToken(ctx, rt.JTI); err != nil {
			s.logger.Warn("sweep failed to delete refresh token",
				"jti", rt.JTI,
				"error", err)
			continue
		}
		removed++
	}

	obs.RecordSweptTokens(removed)
	s.logger.Info("expired refresh tokens swept",
		"expired", len(expired),
		"removed", removed)
	return removed, nil
}
