package goFit

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/goFit/token"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testConfig(tokenURL, apiBaseURL string) Config {
	cfg := defaultConfig()
	cfg.Provider.TokenURL = tokenURL
	cfg.Provider.APIBaseURL = apiBaseURL
	cfg.Provider.ClientID = "test-client"
	cfg.Provider.ClientSecret = "test-secret"

	// Keep every bounded wait short so the suite stays fast.
	cfg.Token.WaitInterval = 5 * time.Millisecond
	cfg.Refresh.BackoffBase = time.Millisecond
	cfg.RateLimit.ResetBuffer = time.Millisecond
	cfg.RateLimit.FallbackBackoff = 2 * time.Millisecond

	return cfg
}

func newTestRedis(t *testing.T, mr *miniredis.Miniredis) redis.UniversalClient {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newTestClient(t *testing.T, mr *miniredis.Miniredis, cfg Config) *Client {
	t.Helper()

	client, err := New().
		WithConfig(cfg).
		WithRedis(newTestRedis(t, mr)).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

// seedStoreAccess writes a valid token pair straight into the shared store,
// simulating a peer process that already refreshed.
func seedStoreAccess(t *testing.T, mr *miniredis.Miniredis, cfg Config, accessToken, refreshToken string, ttl time.Duration) int64 {
	t.Helper()

	store := token.NewStore(newTestRedis(t, mr), cfg.Token.RedisPrefix)
	version, err := store.Save(context.Background(), token.AccessToken{
		Token:     accessToken,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}, refreshToken)
	if err != nil {
		t.Fatalf("seeding store failed: %v", err)
	}
	return version
}

func TestClientNilSafety(t *testing.T) {
	var c *Client

	if _, err := c.EnsureValidToken(context.Background()); KindOf(err) != KindInternal {
		t.Fatalf("expected internal error from nil client, got %v", err)
	}
	if _, err := c.Fetch(context.Background(), "/x", nil); KindOf(err) != KindInternal {
		t.Fatalf("expected internal error from nil client, got %v", err)
	}
	if got := c.AuditDropped(); got != 0 {
		t.Fatalf("expected 0 dropped, got %d", got)
	}
	if got := c.LastRateLimit(); got.Remaining != 0 {
		t.Fatalf("expected zero rate state, got %+v", got)
	}
	c.Close()
}

func TestAdoptRejectsOlderVersion(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig("https://auth.example.com/token", "https://api.example.com")
	client := newTestClient(t, mr, cfg)

	client.mu.Lock()
	client.mem = memToken{access: "newer", expiresAt: time.Now().Add(time.Hour), version: 5}
	client.mu.Unlock()

	client.adopt(&token.Snapshot{
		Access:       &token.AccessToken{Token: "older", ExpiresAt: time.Now().Add(time.Hour).Unix()},
		RefreshToken: "older-rt",
		Version:      3,
	})

	if mem := client.memSnapshot(); mem.access != "newer" || mem.version != 5 {
		t.Fatalf("older snapshot overwrote memory: %+v", mem)
	}
}

func TestSleepContextHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleepContext(ctx, time.Minute); err == nil {
		t.Fatal("expected context error")
	}
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep should be a no-op, got %v", err)
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("short sleep failed: %v", err)
	}
}
