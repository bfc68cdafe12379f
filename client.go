package goFit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/MrEthical07/goFit/internal/lock"
	"github.com/MrEthical07/goFit/token"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Client defines a public type used by goFit APIs.
//
// Client instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Client struct {
	config     Config
	store      *token.Store
	lease      *lock.Lease
	httpClient *http.Client
	audit      *auditDispatcher
	metrics    *Metrics
	pacer      *rate.Limiter
	instanceID string

	// flight collapses concurrent in-process EnsureValidToken callers onto one
	// refresh attempt so a single-use refresh token is never consumed twice
	// from the same process.
	flight singleflight.Group

	mu       sync.Mutex
	mem      memToken
	lastRate RateLimitState

	// sleep is swapped in tests; every wait goes through it so bounded loops
	// stay bounded under a cancelled context.
	sleep func(ctx context.Context, d time.Duration) error
}

// memToken is the per-process cache of the newest adopted token state.
type memToken struct {
	access    string
	expiresAt time.Time
	refresh   string
	version   int64
}

func (m memToken) valid(now time.Time, buffer time.Duration) bool {
	return m.access != "" && now.Add(buffer).Before(m.expiresAt)
}

// RateLimitState is the last provider quota observation, derived from response
// headers and never persisted.
type RateLimitState struct {
	Remaining  int
	ResetIn    time.Duration
	ObservedAt time.Time
}

// Close describes the close operation and its observable behavior.
//
// Close drains and stops the audit dispatcher; it never blocks on in-flight fetches.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.audit != nil {
		c.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped reports events discarded because the audit buffer was full.
func (c *Client) AuditDropped() uint64 {
	if c == nil || c.audit == nil {
		return 0
	}
	return c.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot returns a point-in-time copy of all counters and histograms.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil || c.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return c.metrics.Snapshot()
}

// LastRateLimit returns the most recent quota observation from provider
// headers. The zero value means no rate-limited response has been seen yet.
func (c *Client) LastRateLimit() RateLimitState {
	if c == nil {
		return RateLimitState{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRate
}

func (c *Client) metricInc(id MetricID) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.Inc(id)
}

func (c *Client) metricObserve(id MetricID, d time.Duration) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.Observe(id, d)
}

// adopt installs a store snapshot into process memory unless memory already
// reflects a newer version. Acting on state older than one already observed
// would violate the store's total order of refreshes.
func (c *Client) adopt(snap *token.Snapshot) {
	if snap == nil || snap.Access == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.Version < c.mem.version {
		return
	}
	c.mem = memToken{
		access:    snap.Access.Token,
		expiresAt: time.Unix(snap.Access.ExpiresAt, 0),
		refresh:   snap.RefreshToken,
		version:   snap.Version,
	}
}

func (c *Client) memSnapshot() memToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mem
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
