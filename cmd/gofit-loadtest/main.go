package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goFit "github.com/MrEthical07/goFit"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		clients     = flag.Int("clients", 4, "number of client instances sharing one store (simulated processes)")
		concurrency = flag.Int("concurrency", 64, "concurrent workers per phase")
		ops         = flag.Int("ops", 100000, "operations per phase (ensure + fetch)")
		tokenTTL    = flag.Duration("token-ttl", 2*time.Second, "access token lifetime issued by the fake provider")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "gf-load", "store key prefix")
	)
	flag.Parse()

	if *clients <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "clients, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	provider := newFakeProvider(*tokenTTL)
	defer provider.close()

	fmt.Printf("building %d clients against fake provider %s...\n", *clients, provider.tokenSrv.URL)
	instances := make([]*goFit.Client, *clients)
	for i := range instances {
		cfg := loadtestConfig(provider, *prefix)
		client, err := goFit.New().WithConfig(cfg).WithRedis(rdb).Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "client build failed: %v\n", err)
			os.Exit(1)
		}
		defer client.Close()
		instances[i] = client
	}

	ensureStats := runEnsurePhase(ctx, instances, *ops, *concurrency)
	fetchStats := runFetchPhase(ctx, instances, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("ensure", ensureStats)
	printStats("fetch", fetchStats)
	fmt.Printf("provider: refreshes=%d fetches=%d (token ttl %s)\n",
		provider.refreshes.Load(), provider.fetches.Load(), *tokenTTL)
}

func loadtestConfig(p *fakeProvider, prefix string) goFit.Config {
	return goFit.Config{
		Provider: goFit.ProviderConfig{
			TokenURL:         p.tokenSrv.URL,
			APIBaseURL:       p.apiSrv.URL,
			ClientID:         "loadtest",
			SeedRefreshToken: p.seedRefresh(),
			DefaultAccessTTL: 8 * time.Hour,
			RequestTimeout:   10 * time.Second,
		},
		Token: goFit.TokenConfig{
			RedisPrefix:  prefix,
			SafetyBuffer: 200 * time.Millisecond,
			LeaseTTL:     5 * time.Second,
			WaitAttempts: 20,
			WaitInterval: 25 * time.Millisecond,
		},
		Refresh: goFit.RefreshConfig{
			MaxAttempts: 3,
			BackoffBase: 50 * time.Millisecond,
		},
		RateLimit: goFit.RateLimitConfig{
			MaxRetries:      2,
			ResetBuffer:     50 * time.Millisecond,
			FallbackBackoff: 100 * time.Millisecond,
		},
		Metrics: goFit.MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func runEnsurePhase(ctx context.Context, instances []*goFit.Client, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, func(worker, i int) error {
		client := instances[(worker+i)%len(instances)]
		_, err := client.EnsureValidToken(ctx)
		return err
	})
}

func runFetchPhase(ctx context.Context, instances []*goFit.Client, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, func(worker, i int) error {
		client := instances[(worker+i)%len(instances)]
		_, err := client.Fetch(ctx, "/activities/daily", nil)
		return err
	})
}

func runPhase(ops, concurrency int, op func(worker, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(worker, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

// fakeProvider is an in-process stand-in for the fitness API. Its token
// endpoint enforces single-use refresh tokens exactly like the real provider,
// so a coordination bug shows up as invalid_grant failures in the stats.
type fakeProvider struct {
	tokenSrv *httptest.Server
	apiSrv   *httptest.Server

	mu          sync.Mutex
	liveRefresh string
	liveAccess  string
	serial      int64
	ttl         time.Duration

	refreshes atomic.Int64
	fetches   atomic.Int64
}

func newFakeProvider(ttl time.Duration) *fakeProvider {
	p := &fakeProvider{ttl: ttl}
	p.liveRefresh = p.nextToken("refresh")

	p.tokenSrv = httptest.NewServer(http.HandlerFunc(p.handleToken))
	p.apiSrv = httptest.NewServer(http.HandlerFunc(p.handleFetch))
	return p
}

func (p *fakeProvider) close() {
	p.tokenSrv.Close()
	p.apiSrv.Close()
}

func (p *fakeProvider) seedRefresh() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveRefresh
}

func (p *fakeProvider) nextToken(kind string) string {
	p.serial++
	return fmt.Sprintf("%s-%d", kind, p.serial)
}

func (p *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	submitted := r.PostForm.Get("refresh_token")

	p.mu.Lock()
	if submitted != p.liveRefresh {
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}
	p.liveRefresh = p.nextToken("refresh")
	p.liveAccess = p.nextToken("access")
	access, refresh := p.liveAccess, p.liveRefresh
	p.mu.Unlock()

	p.refreshes.Add(1)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    int64(p.ttl.Seconds()),
		"token_type":    "Bearer",
	})
}

func (p *fakeProvider) handleFetch(w http.ResponseWriter, r *http.Request) {
	p.fetches.Add(1)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"steps":    12000,
		"distance": 8.4,
	})
}
