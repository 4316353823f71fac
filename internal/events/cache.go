package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const viewKeyPrefix = "views:project:"

// RedisViewCache holds rendered project views in Redis. The dispatcher
// drops a project's entry after every mutation; reads repopulate it.
type RedisViewCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisViewCache(client *redis.Client) *RedisViewCache {
	return &RedisViewCache{client: client, ttl: 5 * time.Minute}
}

// GetProjectView returns the cached view bytes, or false on a miss.
func (r *RedisViewCache) GetProjectView(ctx context.Context, projectID string) ([]byte, bool) {
	data, err := r.client.Get(ctx, viewKeyPrefix+projectID).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

func (r *RedisViewCache) SetProjectView(ctx context.Context, projectID string, data []byte) {
	_ = r.client.Set(ctx, viewKeyPrefix+projectID, data, r.ttl).Err()
}

func (r *RedisViewCache) InvalidateProject(ctx context.Context, projectID string) error {
	if err := r.client.Del(ctx, viewKeyPrefix+projectID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("invalidate project view: %w", err)
	}
	return nil
}
