package goFit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goFit/internal/lock"
	"github.com/MrEthical07/goFit/token"
	"github.com/alicebob/miniredis/v2"
)

func newTokenEndpoint(t *testing.T, hits *atomic.Int64, accessToken, refreshToken string, expiresIn int64) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("token endpoint got method %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("token endpoint form parse: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("unexpected grant_type %q", r.PostForm.Get("grant_type"))
		}
		hits.Add(1)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    expiresIn,
			"token_type":    "Bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEnsureValidTokenServesFromStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig("https://auth.example.com/token", "https://api.example.com")
	seedStoreAccess(t, mr, cfg, "stored-access", "stored-refresh", time.Hour)

	client := newTestClient(t, mr, cfg)

	got, err := client.EnsureValidToken(context.Background())
	if err != nil {
		t.Fatalf("EnsureValidToken failed: %v", err)
	}
	if got != "stored-access" {
		t.Fatalf("expected stored token, got %q", got)
	}
	if v := client.MetricsSnapshot().Counters[MetricStoreHit]; v != 1 {
		t.Fatalf("expected 1 store hit, got %d", v)
	}

	// Second call lands on memory without another refresh decision mattering.
	if _, err := client.EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("second EnsureValidToken failed: %v", err)
	}
}

func TestEnsureValidTokenSingleRefreshUnderConcurrency(t *testing.T) {
	mr := miniredis.RunT(t)

	var hits atomic.Int64
	srv := newTokenEndpoint(t, &hits, "fresh-access", "fresh-refresh", 3600)

	cfg := testConfig(srv.URL, "https://api.example.com")
	cfg.Provider.SeedRefreshToken = "seed-refresh"
	client := newTestClient(t, mr, cfg)

	const callers = 16
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = client.EnsureValidToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if tokens[i] != "fresh-access" {
			t.Fatalf("caller %d got %q", i, tokens[i])
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected exactly 1 token endpoint call, got %d", got)
	}

	store := token.NewStore(newTestRedis(t, mr), cfg.Token.RedisPrefix)
	snap, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("store load failed: %v", err)
	}
	if snap.Version != 1 || snap.RefreshToken != "fresh-refresh" {
		t.Fatalf("unexpected store state after refresh: %+v", snap)
	}
}

func TestWaitForPeerAdoptsRefreshedToken(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig("https://auth.example.com/token", "https://api.example.com")
	client := newTestClient(t, mr, cfg)

	rdb := newTestRedis(t, mr)
	lease := lock.New(rdb, cfg.Token.RedisPrefix+":lease")
	if ok, err := lease.Acquire(context.Background(), "peer-owner", time.Minute); err != nil || !ok {
		t.Fatalf("pre-acquiring lease failed: ok=%v err=%v", ok, err)
	}

	// The simulated peer finishes its refresh after two poll intervals.
	store := token.NewStore(rdb, cfg.Token.RedisPrefix)
	var slept atomic.Int64
	client.sleep = func(ctx context.Context, d time.Duration) error {
		if slept.Add(1) == 2 {
			if _, err := store.Save(ctx, token.AccessToken{
				Token:     "peer-access",
				ExpiresAt: time.Now().Add(time.Hour).Unix(),
			}, "peer-refresh"); err != nil {
				t.Errorf("peer save failed: %v", err)
			}
		}
		return nil
	}

	got, err := client.EnsureValidToken(context.Background())
	if err != nil {
		t.Fatalf("EnsureValidToken failed: %v", err)
	}
	if got != "peer-access" {
		t.Fatalf("expected peer token, got %q", got)
	}
	if v := client.MetricsSnapshot().Counters[MetricPeerAdopted]; v != 1 {
		t.Fatalf("expected 1 peer adoption, got %d", v)
	}
	if mem := client.memSnapshot(); mem.refresh != "peer-refresh" || mem.version != 1 {
		t.Fatalf("memory did not adopt peer state: %+v", mem)
	}
}

func TestWaitForPeerBudgetExhausted(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig("https://auth.example.com/token", "https://api.example.com")
	client := newTestClient(t, mr, cfg)
	client.sleep = func(context.Context, time.Duration) error { return nil }

	lease := lock.New(newTestRedis(t, mr), cfg.Token.RedisPrefix+":lease")
	if ok, err := lease.Acquire(context.Background(), "stuck-peer", time.Minute); err != nil || !ok {
		t.Fatalf("pre-acquiring lease failed: ok=%v err=%v", ok, err)
	}

	_, err := client.EnsureValidToken(context.Background())
	if err == nil {
		t.Fatal("expected wait exhaustion error")
	}
	if KindOf(err) != KindTokenRefresh {
		t.Fatalf("expected token_refresh_failure, got %v", KindOf(err))
	}
	if !IsRetryable(err) {
		t.Fatal("wait exhaustion must be retryable")
	}
	if !errors.Is(err, ErrPeerRefreshTimeout) {
		t.Fatalf("expected ErrPeerRefreshTimeout, got %v", err)
	}
	if v := client.MetricsSnapshot().Counters[MetricWaitExhausted]; v != 1 {
		t.Fatalf("expected 1 wait exhaustion, got %d", v)
	}
}

func TestWaitForPeerTakesOverExpiredLease(t *testing.T) {
	mr := miniredis.RunT(t)

	var hits atomic.Int64
	srv := newTokenEndpoint(t, &hits, "takeover-access", "takeover-refresh", 3600)

	cfg := testConfig(srv.URL, "https://api.example.com")
	cfg.Provider.SeedRefreshToken = "seed-refresh"
	client := newTestClient(t, mr, cfg)

	// The holder crashes: its lease expires mid-wait and nothing reaches the
	// store, so the waiter's single takeover attempt must succeed.
	rdb := newTestRedis(t, mr)
	lease := lock.New(rdb, cfg.Token.RedisPrefix+":lease")
	if ok, err := lease.Acquire(context.Background(), "crashed-peer", time.Minute); err != nil || !ok {
		t.Fatalf("pre-acquiring lease failed: ok=%v err=%v", ok, err)
	}

	var slept atomic.Int64
	client.sleep = func(ctx context.Context, d time.Duration) error {
		if slept.Add(1) == int64(cfg.Token.WaitAttempts) {
			if err := rdb.Del(ctx, cfg.Token.RedisPrefix+":lease").Err(); err != nil {
				t.Errorf("expiring lease failed: %v", err)
			}
		}
		return nil
	}

	got, err := client.EnsureValidToken(context.Background())
	if err != nil {
		t.Fatalf("EnsureValidToken failed: %v", err)
	}
	if got != "takeover-access" {
		t.Fatalf("expected takeover token, got %q", got)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 token endpoint call, got %d", hits.Load())
	}
}

func TestRefreshAsLeaderReleasesLease(t *testing.T) {
	mr := miniredis.RunT(t)

	var hits atomic.Int64
	srv := newTokenEndpoint(t, &hits, "led-access", "led-refresh", 3600)

	cfg := testConfig(srv.URL, "https://api.example.com")
	cfg.Provider.SeedRefreshToken = "seed-refresh"
	client := newTestClient(t, mr, cfg)

	if _, err := client.EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken failed: %v", err)
	}

	lease := lock.New(newTestRedis(t, mr), cfg.Token.RedisPrefix+":lease")
	holder, err := lease.Holder(context.Background())
	if err != nil {
		t.Fatalf("holder check failed: %v", err)
	}
	if holder != "" {
		t.Fatalf("lease still held by %q after refresh", holder)
	}
}
