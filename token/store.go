package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is an exported constant or variable used by the fitness API client.
var ErrRedisUnavailable = errors.New("redis unavailable")

const minAccessTTL = time.Second

const saveScript = `
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
redis.call("SET", KEYS[2], ARGV[2])
return redis.call("INCR", KEYS[3])
`

var saveLua = redis.NewScript(saveScript)

// AccessToken is the short-lived bearer credential as persisted in the store.
type AccessToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Snapshot is one consistent read of the store. Access is nil when the blob is
// absent, expired out of Redis, or unparsable.
type Snapshot struct {
	Access       *AccessToken
	RefreshToken string
	Version      int64
}

// AccessValid reports whether the snapshot carries a token still usable at now
// with the given safety buffer before expiry.
func (s *Snapshot) AccessValid(now time.Time, buffer time.Duration) bool {
	if s == nil || s.Access == nil || s.Access.Token == "" {
		return false
	}
	return now.Add(buffer).Before(time.Unix(s.Access.ExpiresAt, 0))
}

// Store is the Redis-backed shared token store. One Store serves one provider
// authorization; the prefix isolates its keys.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a token [Store] backed by the given Redis client under prefix.
func NewStore(redis redis.UniversalClient, prefix string) *Store {
	return &Store{
		redis:  redis,
		prefix: prefix,
	}
}

func (s *Store) accessKey() string  { return s.prefix + ":at" }
func (s *Store) refreshKey() string { return s.prefix + ":rt" }
func (s *Store) versionKey() string { return s.prefix + ":ver" }

// Save persists the rotated token pair and bumps the version counter in one
// atomic script. The access blob carries a TTL tracking its expiry; the refresh
// token has none because it stays valid until exchanged.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Save(ctx context.Context, access AccessToken, refreshToken string) (int64, error) {
	blob, err := json.Marshal(access)
	if err != nil {
		return 0, err
	}

	ttl := time.Until(time.Unix(access.ExpiresAt, 0))
	if ttl < minAccessTTL {
		ttl = minAccessTTL
	}

	version, err := saveLua.Run(
		ctx,
		s.redis,
		[]string{s.accessKey(), s.refreshKey(), s.versionKey()},
		blob,
		refreshToken,
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return version, nil
}

// Load reads the access blob, refresh token, and version in one round trip.
// A corrupt access blob is treated as absent so the caller falls through to a
// refresh instead of failing.
//
//	Performance: 1 Redis MGET.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	vals, err := s.redis.MGet(ctx, s.accessKey(), s.refreshKey(), s.versionKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	snap := &Snapshot{}

	if raw, ok := vals[0].(string); ok && raw != "" {
		var access AccessToken
		if jsonErr := json.Unmarshal([]byte(raw), &access); jsonErr == nil && access.Token != "" {
			snap.Access = &access
		}
	}
	if raw, ok := vals[1].(string); ok {
		snap.RefreshToken = raw
	}
	if raw, ok := vals[2].(string); ok {
		if v, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
			snap.Version = v
		}
	}

	return snap, nil
}

// Version returns the current refresh counter; zero means no refresh has ever
// been persisted.
func (s *Store) Version(ctx context.Context) (int64, error) {
	v, err := s.redis.Get(ctx, s.versionKey()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return v, nil
}

// InvalidateAccess drops only the access blob, forcing the next caller through
// a refresh. The refresh token and version counter are untouched.
func (s *Store) InvalidateAccess(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.accessKey()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// SeedRefreshToken installs a statically configured refresh token only when the
// store holds none. Returns true if the seed was written.
func (s *Store) SeedRefreshToken(ctx context.Context, refreshToken string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.refreshKey(), refreshToken, 0).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
