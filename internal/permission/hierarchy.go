package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/salesdesk/crm-management/internal/auth"
	"github.com/salesdesk/crm-management/internal/core/events"
)

const defaultReportsCacheTTL = time.Minute

// Directory lists users for hierarchy resolution. The credential store
// repository satisfies it.
type Directory interface {
	ListUsersByManager(ctx context.Context, tenantID, managerID string) ([]*auth.User, error)
}

// Resolver resolves a manager's direct reports: the active users of the same
// tenant whose reporting line points at the manager. Resolution is a single
// level deep.
//
// With a Redis client attached the resolver keeps a short lived read-through
// cache per tenant and manager. Cache failures fall back to the directory.
type Resolver struct {
	directory Directory
	cache     *redis.Client
	ttl       time.Duration
	logger    *slog.Logger
}

// NewResolver builds a resolver. cache may be nil, which disables caching.
func NewResolver(directory Directory, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = defaultReportsCacheTTL
	}
	return &Resolver{
		directory: directory,
		cache:     cache,
		ttl:       ttl,
		logger:    logger,
	}
}

// DirectReports returns the manager's direct reports, serving from the cache
// when possible.
func (r *Resolver) DirectReports(ctx context.Context, tenantID, managerID string) ([]*auth.User, error) {
	if r.cache == nil {
		return r.directory.ListUsersByManager(ctx, tenantID, managerID)
	}

	key := r.reportsKey(ctx, tenantID, managerID)
	if key != "" {
		if cached, ok := r.lookup(ctx, key); ok {
			return cached, nil
		}
	}

	reports, err := r.directory.ListUsersByManager(ctx, tenantID, managerID)
	if err != nil {
		return nil, err
	}
	if key != "" {
		r.store(ctx, key, reports)
	}
	return reports, nil
}

// Invalidate drops every cached reports set of a tenant by bumping the
// tenant's cache generation.
func (r *Resolver) Invalidate(ctx context.Context, tenantID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Incr(ctx, generationKey(tenantID)).Err(); err != nil {
		r.logger.Warn("reports cache invalidation failed", "tenant_id", tenantID, "error", err)
	}
}

// HandleUserEvent invalidates the affected tenant's cache on user record
// changes. Wire it to user.updated and user.deleted on the event bus.
func (r *Resolver) HandleUserEvent(ctx context.Context, event events.Event) error {
	data, _ := event.Payload().(map[string]interface{})
	tenantID, _ := data["tenant_id"].(string)
	if tenantID == "" {
		return nil
	}
	r.Invalidate(ctx, tenantID)
	return nil
}

// reportsKey resolves the generation-scoped cache key. An empty key means
// the cache is unreachable and should be skipped for this call.
func (r *Resolver) reportsKey(ctx context.Context, tenantID, managerID string) string {
	generation, err := r.cache.Get(ctx, generationKey(tenantID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Warn("reports cache unreachable", "tenant_id", tenantID, "error", err)
		return ""
	}
	return fmt.Sprintf("reports:%s:%d:%s", tenantID, generation, managerID)
}

func (r *Resolver) lookup(ctx context.Context, key string) ([]*auth.User, bool) {
	raw, err := r.cache.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		r.logger.Warn("reports cache read failed", "key", key, "error", err)
		return nil, false
	}
	var users []*auth.User
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		r.logger.Warn("reports cache entry malformed", "key", key, "error", err)
		return nil, false
	}
	return users, true
}

func (r *Resolver) store(ctx context.Context, key string, reports []*auth.User) {
	raw, err := json.Marshal(reports)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		r.logger.Warn("reports cache write failed", "key", key, "error", err)
	}
}

func generationKey(tenantID string) string {
	return "reports:gen:" + tenantID
}
