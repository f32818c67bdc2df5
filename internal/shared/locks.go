package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// JobLockKey builds redis keys for single-flight background jobs.
func JobLockKey(job string) string {
	return fmt.Sprintf("precifica:jobs:%s:lock", job)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// AcquireLock takes a redis lock for ttl. It returns ErrLockHeld when another
// owner holds the key. The returned release func only deletes the key while
// this owner still holds it.
func AcquireLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (func(context.Context) error, error) {
	if client == nil {
		return func(context.Context) error { return nil }, nil
	}
	owner := uuid.NewString()
	ok, err := client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, client, []string{key}, owner).Err()
	}, nil
}
