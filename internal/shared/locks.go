package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates another holder owns the lock.
var ErrLockHeld = errors.New("lock already held")

// BackfillLockKey builds redis keys guarding one import run per target actor.
func BackfillLockKey(actor uuid.UUID) string {
	return fmt.Sprintf("backfill:actor:%s:lock", actor)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lock is a redis mutex owned by a random token.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// AcquireLock takes key for ttl or returns ErrLockHeld.
func AcquireLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, error) {
	if client == nil {
		return nil, errors.New("lock: redis client required")
	}
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrLockHeld)
	}
	return &Lock{client: client, key: key, token: token}, nil
}

// Release drops the lock when it is still owned by this holder.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
