package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is an exported constant or variable used by the fitness API client.
var ErrRedisUnavailable = errors.New("redis unavailable")

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLua = redis.NewScript(releaseScript)

// Lease is a single named mutual-exclusion entry in the shared store. The TTL
// supplied at acquire time bounds how long a crashed holder blocks peers.
type Lease struct {
	redis redis.UniversalClient
	key   string
}

// New creates a [Lease] over the given Redis key.
func New(redis redis.UniversalClient, key string) *Lease {
	return &Lease{
		redis: redis,
		key:   key,
	}
}

// Acquire atomically creates the lease for ownerID only if nobody holds it.
// Returns false when the lease is live under any owner, including a previous
// attempt from this process.
//
//	Performance: 1 Redis SET NX PX.
func (l *Lease) Acquire(ctx context.Context, ownerID string, ttl time.Duration) (bool, error) {
	ok, err := l.redis.SetNX(ctx, l.key, ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}

// Release deletes the lease only while ownerID still holds it. Releasing a
// lease held by someone else, or no lease at all, is a silent no-op; the only
// error condition is Redis being unreachable.
//
//	Performance: 1 Lua EVALSHA (compare-and-delete).
func (l *Lease) Release(ctx context.Context, ownerID string) error {
	if _, err := releaseLua.Run(ctx, l.redis, []string{l.key}, ownerID).Result(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Holder returns the current owner ID, or empty when the lease is free.
func (l *Lease) Holder(ctx context.Context) (string, error) {
	owner, err := l.redis.Get(ctx, l.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return owner, nil
}
