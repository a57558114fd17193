package permission

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/salesdesk/crm-management/internal"
	"github.com/salesdesk/crm-management/internal/auth"
	"github.com/salesdesk/crm-management/internal/core/events"
)

var _ = Describe("Resolver", func() {
	var (
		ctx       context.Context
		directory *stubDirectory
		mr        *miniredis.Miniredis
		client    *redis.Client
		resolver  *Resolver
	)

	BeforeEach(func() {
		ctx = context.Background()
		directory = &stubDirectory{reports: map[string][]*auth.User{
			"tenant-main/mgr-1": {activeRep("rep-1"), activeRep("rep-2")},
		}}

		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())

		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		resolver = NewResolver(directory, client, time.Minute, testLogger())
	})

	AfterEach(func() {
		Expect(client.Close()).To(Succeed())
		mr.Close()
	})

	It("should resolve direct reports through the directory", func() {
		reports, err := resolver.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(reports).To(HaveLen(2))
		Expect(reports[0].UserID).To(Equal("rep-1"))
		Expect(reports[1].UserID).To(Equal("rep-2"))
	})

	It("should serve repeat lookups from the cache", func() {
		_, err := resolver.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())

		reports, err := resolver.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(reports).To(HaveLen(2))
		Expect(directory.calls).To(Equal(1))
	})

	It("should cache empty report sets as well", func() {
		_, err := resolver.DirectReports(ctx, "tenant-main", "mgr-lonely")
		Expect(err).NotTo(HaveOccurred())

		reports, err := resolver.DirectReports(ctx, "tenant-main", "mgr-lonely")
		Expect(err).NotTo(HaveOccurred())
		Expect(reports).To(BeEmpty())
		Expect(directory.calls).To(Equal(1))
	})

	It("should go back to the directory once the entry expires", func() {
		_, err := resolver.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())

		mr.FastForward(2 * time.Minute)

		_, err = resolver.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(directory.calls).To(Equal(2))
	})

	It("should drop a tenant's entries on invalidation", func() {
		_, err := resolver.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())

		resolver.Invalidate(ctx, "tenant-main")

		_, err = resolver.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(directory.calls).To(Equal(2))
	})

	It("should leave other tenants cached when one is invalidated", func() {
		_, err := resolver.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())

		resolver.Invalidate(ctx, "tenant-other")

		_, err = resolver.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(directory.calls).To(Equal(1))
	})

	It("should invalidate from user change events", func() {
		_, err := resolver.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())

		event := events.NewUserUpdatedEvent("rep-1", "tenant-main", "SALES_MANAGER")
		Expect(resolver.HandleUserEvent(ctx, event)).To(Succeed())

		_, err = resolver.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(directory.calls).To(Equal(2))
	})

	It("should ignore events without a tenant", func() {
		_, err := resolver.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())

		Expect(resolver.HandleUserEvent(ctx, events.NewUserUpdatedEvent("rep-1", "", ""))).To(Succeed())

		_, err = resolver.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(directory.calls).To(Equal(1))
	})

	It("should fall back to the directory when redis is unreachable", func() {
		down, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		downClient := redis.NewClient(&redis.Options{Addr: down.Addr()})
		defer downClient.Close()
		down.Close()

		lone := NewResolver(directory, downClient, time.Minute, testLogger())
		reports, err := lone.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(reports).To(HaveLen(2))
		Expect(directory.calls).To(Equal(1))
	})

	It("should run without any cache attached", func() {
		plain := NewResolver(directory, nil, 0, testLogger())

		_, err := plain.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())
		_, err = plain.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(directory.calls).To(Equal(2))
	})

	It("should surface directory failures", func() {
		directory.err = internal.ErrStoreUnavailable
		_, err := resolver.DirectReports(ctx, "tenant-main", "mgr-1")
		Expect(err).To(MatchError(internal.ErrStoreUnavailable))
	})
})
