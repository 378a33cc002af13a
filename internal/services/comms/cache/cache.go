// Package cache caches role-scoped inbox projections in Redis. The cache is
// best-effort: Redis errors degrade to store reads and are never surfaced to
// callers.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/classpulse/classpulse/internal/services/comms/domain"
)

// DefaultTTL bounds projection staleness between invalidations.
const DefaultTTL = 30 * time.Second

// ProjectionCache implements domain.ProjectionCache over Redis.
type ProjectionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New wraps a Redis client. A non-positive ttl uses DefaultTTL.
func New(client *redis.Client, ttl time.Duration) *ProjectionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ProjectionCache{client: client, ttl: ttl}
}

func key(contactID string, role domain.Role) string {
	return "comms:inbox:" + contactID + ":" + string(role)
}

// GetProjections returns the cached first-page projections for one contact
// and role. Any Redis error reports a miss.
func (c *ProjectionCache) GetProjections(ctx context.Context, contactID string, role domain.Role) ([]domain.Projection, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, key(contactID, role)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("projection cache get: %v", err)
		}
		return nil, false
	}
	var projections []domain.Projection
	if err := json.Unmarshal(payload, &projections); err != nil {
		log.Printf("projection cache decode: %v", err)
		return nil, false
	}
	return projections, true
}

// SetProjections stores the first-page projections for one contact and role.
func (c *ProjectionCache) SetProjections(ctx context.Context, contactID string, role domain.Role, projections []domain.Projection) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(projections)
	if err != nil {
		log.Printf("projection cache encode: %v", err)
		return
	}
	if err := c.client.Set(ctx, key(contactID, role), payload, c.ttl).Err(); err != nil {
		log.Printf("projection cache set: %v", err)
	}
}

// Invalidate drops every role's cached projections for one contact.
func (c *ProjectionCache) Invalidate(ctx context.Context, contactID string) {
	if c == nil || c.client == nil {
		return
	}
	keys := []string{
		key(contactID, domain.RoleRecipient),
		key(contactID, domain.RoleTeacher),
		key(contactID, domain.RoleSchoolAdmin),
		key(contactID, domain.RolePlatformAdmin),
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("projection cache invalidate: %v", err)
	}
}

var _ domain.ProjectionCache = (*ProjectionCache)(nil)
