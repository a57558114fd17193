package auth

import (
	"context"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/salesdesk/crm-management/internal"
)

var _ = ginkgo.Describe("Sweeper", func() {
	var (
		ctx     context.Context
		repo    *mockRepository
		sweeper *Sweeper
		now     time.Time
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		repo = newMockRepository()
		sweeper = NewSweeper(repo, testLogger())
		now = time.Now()
		sweeper.now = func() time.Time { return now }
	})

	addToken := func(jti string, expiresAt time.Time) {
		repo.tokens[jti] = &RefreshToken{
			JTI:       jti,
			UserID:    "user-1",
			Token:     "opaque-" + jti,
			ExpiresAt: expiresAt,
			CreatedAt: now.Add(-time.Hour),
		}
	}

	ginkgo.Context("with a mix of live and expired tokens", func() {
		ginkgo.It("should remove only the expired ones", func() {
			// Given
			addToken("expired-1", now.Add(-time.Minute))
			addToken("expired-2", now.Add(-24*time.Hour))
			addToken("live-1", now.Add(time.Hour))

			// When
			removed, err := sweeper.Sweep(ctx)

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(removed).To(gomega.Equal(2))
			gomega.Expect(repo.tokens).To(gomega.HaveKey("live-1"))
			gomega.Expect(repo.tokens).ToNot(gomega.HaveKey("expired-1"))
			gomega.Expect(repo.tokens).ToNot(gomega.HaveKey("expired-2"))
		})
	})

	ginkgo.Context("with nothing expired", func() {
		ginkgo.It("should be a no-op", func() {
			addToken("live-1", now.Add(time.Hour))

			removed, err := sweeper.Sweep(ctx)

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(removed).To(gomega.BeZero())
			gomega.Expect(repo.tokens).To(gomega.HaveLen(1))
		})
	})

	ginkgo.Context("when the store is unavailable", func() {
		ginkgo.It("should surface the listing error", func() {
			repo.tokenError = internal.ErrStoreUnavailable

			_, err := sweeper.Sweep(ctx)

			gomega.Expect(err).To(gomega.MatchError(internal.ErrStoreUnavailable))
		})
	})
})
